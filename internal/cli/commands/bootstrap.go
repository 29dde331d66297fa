// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Concept-Kit Orchestrator - a deploy-planning, rollout, and provider
dispatch core generated from concept specifications.

This program is free software licensed under the terms of the GNU AGPL
v3 or later. See https://www.gnu.org/licenses/ for license details.
*/

package commands

import (
	"context"
	"fmt"
	"os"

	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/conceptkit/orchestrator/internal/providers/gitops/argo"
	"github.com/conceptkit/orchestrator/internal/providers/gitops/flux"
	"github.com/conceptkit/orchestrator/internal/providers/gitops/gitrepo"
	"github.com/conceptkit/orchestrator/internal/providers/iac/cloudformation"
	"github.com/conceptkit/orchestrator/internal/providers/iac/dockercomposeiac"
	"github.com/conceptkit/orchestrator/internal/providers/iac/pulumi"
	"github.com/conceptkit/orchestrator/internal/providers/runtime/cloudflare"
	"github.com/conceptkit/orchestrator/internal/providers/runtime/cloudrun"
	"github.com/conceptkit/orchestrator/internal/providers/runtime/dockercompose"
	"github.com/conceptkit/orchestrator/internal/providers/runtime/gcf"
	"github.com/conceptkit/orchestrator/internal/providers/runtime/k8s"
	"github.com/conceptkit/orchestrator/internal/providers/runtime/lambda"
	"github.com/conceptkit/orchestrator/internal/providers/runtime/local"
	"github.com/conceptkit/orchestrator/internal/providers/runtime/vercel"
	"github.com/conceptkit/orchestrator/internal/providers/secret/awssm"
	"github.com/conceptkit/orchestrator/internal/providers/secret/dotenv"
	"github.com/conceptkit/orchestrator/internal/providers/secret/gcpsm"
	"github.com/conceptkit/orchestrator/internal/providers/secret/vault"
	"github.com/conceptkit/orchestrator/pkg/executil"
	"github.com/conceptkit/orchestrator/pkg/idgen"
	"github.com/conceptkit/orchestrator/pkg/logging"
	"github.com/conceptkit/orchestrator/pkg/providers/gitops"
	"github.com/conceptkit/orchestrator/pkg/providers/iac"
	"github.com/conceptkit/orchestrator/pkg/providers/runtime"
	"github.com/conceptkit/orchestrator/pkg/providers/secret"
	"github.com/conceptkit/orchestrator/pkg/store"
)

// registerProviders populates the process-wide DefaultRegistry of
// every provider family. Backends that talk to a live credentialed
// service (spec.md §9: "no init() self-registration") are constructed
// here, the one place allowed to read credentials from the
// environment; a backend is skipped, with a log line, when its
// required environment variables are absent rather than failing
// startup outright, so a single machine can run the orchestrator
// against whichever providers it has credentials for.
func registerProviders(ctx context.Context, s *store.Store, ids idgen.Source, log logging.Logger) {
	runner := executil.NewRunner()

	runtime.Register(local.New(s, ids))
	runtime.Register(dockercompose.New(s, runner, ids, composeFilePath()))
	iac.Register(dockercomposeiac.NewDefault(composeFilePath()))

	if region := os.Getenv("AWS_REGION"); region != "" {
		if b, err := lambda.NewFromEnv(ctx, s, ids, region); err != nil {
			log.Warn("skipping lambda provider", logging.NewField("error", err))
		} else {
			runtime.Register(b)
		}
		if b, err := cloudformation.NewFromEnv(ctx, ids, region); err != nil {
			log.Warn("skipping cloudformation provider", logging.NewField("error", err))
		} else {
			iac.Register(b)
		}
	}
	if cfg := (awssm.Config{Region: os.Getenv("AWS_REGION")}); cfg.Region != "" {
		if b, err := awssm.New(ctx, cfg); err != nil {
			log.Warn("skipping awssm provider", logging.NewField("error", err))
		} else {
			secret.Register(b)
		}
	}

	if project := os.Getenv("GOOGLE_CLOUD_PROJECT"); project != "" {
		if b, err := cloudrun.NewFromEnv(ctx, s, ids); err != nil {
			log.Warn("skipping cloudrun provider", logging.NewField("error", err))
		} else {
			runtime.Register(b)
		}
		if b, err := gcf.NewFromEnv(ctx, s, ids); err != nil {
			log.Warn("skipping gcf provider", logging.NewField("error", err))
		} else {
			runtime.Register(b)
		}
		if b, err := gcpsm.NewFromEnv(ctx, project); err != nil {
			log.Warn("skipping gcpsm provider", logging.NewField("error", err))
		} else {
			secret.Register(b)
		}
	}

	if token := os.Getenv("VERCEL_TOKEN"); token != "" {
		runtime.Register(vercel.New(s, ids, token))
	}
	if token, account := os.Getenv("CLOUDFLARE_TOKEN"), os.Getenv("CLOUDFLARE_ACCOUNT_ID"); token != "" && account != "" {
		runtime.Register(cloudflare.New(s, ids, token, account))
	}

	if addr, token := os.Getenv("VAULT_ADDR"), os.Getenv("VAULT_TOKEN"); addr != "" && token != "" {
		secret.Register(vault.New(s, ids, addr, token))
	}
	if envFile := os.Getenv("ORCHESTRATOR_DOTENV_PATH"); envFile != "" {
		secret.Register(dotenv.New(envFile))
	}

	if workDir := os.Getenv("PULUMI_WORKDIR"); workDir != "" {
		iac.Register(pulumi.New(workDir, ids))
	}

	if kubeconfig := os.Getenv("KUBECONFIG"); kubeconfig != "" {
		restCfg, err := clientcmd.BuildConfigFromFlags("", kubeconfig)
		if err != nil {
			log.Warn("skipping kubernetes providers", logging.NewField("error", err))
		} else {
			if clientset, err := kubernetes.NewForConfig(restCfg); err != nil {
				log.Warn("skipping k8s runtime provider", logging.NewField("error", err))
			} else {
				runtime.Register(k8s.New(s, ids, clientset))
			}

			dyn, err := dynamic.NewForConfig(restCfg)
			if err != nil {
				log.Warn("skipping gitops providers", logging.NewField("error", err))
			} else {
				auth := gitrepo.Auth{Username: os.Getenv("GITOPS_GIT_USERNAME"), Password: os.Getenv("GITOPS_GIT_TOKEN")}
				cloneRoot := os.Getenv("GITOPS_CLONE_ROOT")
				if cloneRoot == "" {
					cloneRoot = os.TempDir()
				}
				namespace := os.Getenv("GITOPS_NAMESPACE")
				if namespace == "" {
					namespace = "default"
				}
				gitops.Register(argo.New(cloneRoot, auth, dyn, namespace))
				gitops.Register(flux.New(cloneRoot, auth, dyn, namespace))
			}
		}
	}
}

func composeFilePath() string {
	if p := os.Getenv("ORCHESTRATOR_COMPOSE_PATH"); p != "" {
		return p
	}
	return "docker-compose.yml"
}

// openStore opens the record store at the path named by
// ORCHESTRATOR_STORE_PATH, defaulting to orchestrator.db in the
// current directory.
func openStore() (*store.Store, error) {
	path := os.Getenv("ORCHESTRATOR_STORE_PATH")
	if path == "" {
		path = "orchestrator.db"
	}
	s, err := store.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening store at %s: %w", path, err)
	}
	return s, nil
}

// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Concept-Kit Orchestrator - a deploy-planning, rollout, and provider
dispatch core generated from concept specifications.

This program is free software licensed under the terms of the GNU AGPL
v3 or later. See https://www.gnu.org/licenses/ for license details.
*/

package artifact

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/conceptkit/orchestrator/pkg/idgen"
	"github.com/conceptkit/orchestrator/pkg/store"
)

// cacheTTL bounds how long an artifact's existence is trusted from
// Redis before falling back to the blob store.
const cacheTTL = 10 * time.Minute

// Index owns relation RelationArtifact (spec.md §3 "Ownership"): it is
// the only package that writes Artifact records. A BlobStore holds the
// bytes; Index tracks which artifact belongs to which (concept,
// language, platform) and is immutable once written.
type Index struct {
	blobs   BlobStore
	records *store.Store
	ids     idgen.Source
	cache   *redis.Client
}

// New constructs an Index. cache may be nil, in which case every Exists
// check falls through to the blob store.
func New(blobs BlobStore, records *store.Store, ids idgen.Source, cache *redis.Client) *Index {
	return &Index{blobs: blobs, records: records, ids: ids, cache: cache}
}

func cacheKey(hash string) string { return "artifact:exists:" + hash }

// Build stores data in the blob store and, if no record for its hash
// already exists, registers a new immutable ArtifactRecord. Building
// the same bytes twice is idempotent: it returns the existing record.
func (idx *Index) Build(ctx context.Context, concept, language, platform string, data []byte) (store.ArtifactRecord, error) {
	hash, err := idx.blobs.Store(ctx, data)
	if err != nil {
		return store.ArtifactRecord{}, fmt.Errorf("artifact: store blob: %w", err)
	}

	if existing, ok, err := idx.findByHash(hash); err != nil {
		return store.ArtifactRecord{}, err
	} else if ok {
		return existing, nil
	}

	id := idx.ids.New("artifact")
	rec := store.ArtifactRecord{
		Artifact:  id,
		Hash:      hash,
		Location:  hash,
		Concept:   concept,
		Language:  language,
		Platform:  platform,
		CreatedAt: time.Now().UTC(),
	}
	if err := store.Put(idx.records, store.RelationArtifact, id, rec); err != nil {
		return store.ArtifactRecord{}, err
	}
	idx.setCache(ctx, hash, true)
	return rec, nil
}

func (idx *Index) findByHash(hash string) (store.ArtifactRecord, bool, error) {
	all, err := store.List[store.ArtifactRecord](idx.records, store.RelationArtifact)
	if err != nil {
		return store.ArtifactRecord{}, false, err
	}
	for _, rec := range all {
		if rec.Hash == hash {
			return rec, true, nil
		}
	}
	return store.ArtifactRecord{}, false, nil
}

// Exists reports whether hash has a blob on record, preferring the
// Redis hot cache and falling back to a blob-store existence check.
func (idx *Index) Exists(ctx context.Context, hash string) (bool, error) {
	if idx.cache != nil {
		if v, err := idx.cache.Get(ctx, cacheKey(hash)).Result(); err == nil {
			return v == "1", nil
		}
		// Cache miss or unavailable: fall through to the authoritative check.
	}

	exists, err := idx.blobs.Exists(ctx, hash)
	if err != nil {
		return false, fmt.Errorf("artifact: exists %s: %w", hash, err)
	}
	idx.setCache(ctx, hash, exists)
	return exists, nil
}

func (idx *Index) setCache(ctx context.Context, hash string, exists bool) {
	if idx.cache == nil {
		return
	}
	val := "0"
	if exists {
		val = "1"
	}
	idx.cache.Set(ctx, cacheKey(hash), val, cacheTTL)
}

// Fetch retrieves an artifact's bytes by hash.
func (idx *Index) Fetch(ctx context.Context, hash string) ([]byte, error) {
	return idx.blobs.Get(ctx, hash)
}

// Sizer is optionally implemented by a BlobStore to report a blob's
// byte size without reading it back, so GC can account freedBytes
// without paying for a full Get of each deleted blob.
type Sizer interface {
	Size(ctx context.Context, hash string) (int64, error)
}

// GC removes artifact records older than olderThan, keeping the
// keepVersions most recently created records per (concept, language,
// platform) key regardless of age (spec.md §9 open question, resolved
// conservatively in SPEC_FULL.md §5). It removes both the record-store
// entry and the backing blob, and reports how many records were
// removed and how many bytes were freed from the blob store where that
// size is knowable (spec.md §9 "ok{removed, freedBytes}").
func (idx *Index) GC(ctx context.Context, olderThan time.Duration, keepVersions int) (removed int, freedBytes int64, err error) {
	all, err := store.List[store.ArtifactRecord](idx.records, store.RelationArtifact)
	if err != nil {
		return 0, 0, err
	}

	type key struct{ concept, language, platform string }
	byKey := make(map[key][]store.ArtifactRecord)
	for _, rec := range all {
		k := key{rec.Concept, rec.Language, rec.Platform}
		byKey[k] = append(byKey[k], rec)
	}

	cutoff := time.Now().UTC().Add(-olderThan)
	for _, group := range byKey {
		sort.Slice(group, func(i, j int) bool { return group[i].CreatedAt.After(group[j].CreatedAt) })
		if keepVersions < 0 {
			keepVersions = 0
		}
		var stale []store.ArtifactRecord
		if len(group) > keepVersions {
			stale = group[keepVersions:]
		}
		for _, rec := range stale {
			if rec.CreatedAt.After(cutoff) {
				continue
			}
			if sizer, ok := idx.blobs.(Sizer); ok {
				if n, err := sizer.Size(ctx, rec.Hash); err == nil {
					freedBytes += n
				}
			}
			if _, err := store.Delete(idx.records, store.RelationArtifact, rec.Artifact); err != nil {
				return removed, freedBytes, err
			}
			if err := idx.blobs.Delete(ctx, rec.Hash); err != nil {
				return removed, freedBytes, fmt.Errorf("artifact: gc delete blob %s: %w", rec.Hash, err)
			}
			removed++
		}
	}
	return removed, freedBytes, nil
}

// Copyright (C) 2022  Shanhu Tech Inc.
//
// This program is free software: you can redistribute it and/or modify it
// under the terms of the GNU Affero General Public License as published by the
// Free Software Foundation, either version 3 of the License, or (at your
// option) any later version.
//
// This program is distributed in the hope that it will be useful, but WITHOUT
// ANY WARRANTY; without even the implied warranty of MERCHANTABILITY or
// FITNESS FOR A PARTICULAR PURPOSE.  See the GNU Affero General Public License
// for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package rbt

import (
	"context"
	"errors"
	"io"
	"os"
	"runtime"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"
	"lukechampine.com/blake3"
	"shanhu.io/misc/errcode"
)

// inputHasher produces content hashes for project source files. A
// file whose metadata matches a cached entry is not re-read; a file
// that was merely touched is re-hashed once and its unchanged hash is
// cached under the new metadata.
type inputHasher struct {
	env   *env
	cache *metaHashCache

	// hot caches metadata-key lookups in memory, in front of the
	// persistent map.
	hot *lru.Cache[string, Digest]
}

func newInputHasher(env *env, cache *metaHashCache) (*inputHasher, error) {
	hot, err := lru.New[string, Digest](4096)
	if err != nil {
		return nil, errcode.Annotate(err, "create hash cache")
	}
	return &inputHasher{env: env, cache: cache, hot: hot}, nil
}

// hashFile returns the content hash of one project-relative path.
func (h *inputHasher) hashFile(p string) (Digest, error) {
	abs := h.env.src(p)
	meta, err := statFileMeta(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return Digest{}, &InputMissingError{Path: p}
		}
		return Digest{}, errcode.Annotatef(err, "stat %q", p)
	}

	key := meta.key()
	ks := string(key)
	if d, ok := h.hot.Get(ks); ok {
		return d, nil
	}
	if d, ok, err := h.cache.get(key); err != nil {
		return Digest{}, err
	} else if ok {
		h.hot.Add(ks, d)
		return d, nil
	}

	d, err := hashFileContent(abs)
	if err != nil {
		return Digest{}, errcode.Annotatef(err, "hash %q", p)
	}
	if err := h.cache.put(key, d); err != nil {
		return Digest{}, err
	}
	h.hot.Add(ks, d)
	return d, nil
}

// hashAll hashes the given deduplicated project paths in parallel and
// returns the path to content hash map. Missing files are left out of
// the map, so only the jobs that read them fail; other errors abort.
func (h *inputHasher) hashAll(ctx context.Context, paths []string) (
	map[string]Digest, error,
) {
	var mu sync.Mutex
	hashes := make(map[string]Digest, len(paths))

	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(runtime.NumCPU())
	for _, p := range paths {
		p := p
		group.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			d, err := h.hashFile(p)
			if err != nil {
				var missing *InputMissingError
				if errors.As(err, &missing) {
					return nil
				}
				return err
			}
			mu.Lock()
			hashes[p] = d
			mu.Unlock()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return hashes, nil
}

func hashFileContent(p string) (Digest, error) {
	f, err := os.Open(p)
	if err != nil {
		return Digest{}, err
	}
	defer f.Close()

	hasher := blake3.New(32, nil)
	if _, err := io.Copy(hasher, f); err != nil {
		return Digest{}, err
	}
	var d Digest
	copy(d[:], hasher.Sum(nil))
	return d, nil
}

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
	"database/sql"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"shanhu.io/misc/errcode"
)

// Store holds the two persistent maps of the engine: the result map
// from full fingerprints to CAS digests, and the content-addressed
// store of immutable output trees. Entries are never rewritten; a
// fingerprint that maps to two different digests is a fatal conflict.
type Store struct {
	env *env
	db  *sql.DB
}

func openStore(env *env) (*Store, error) {
	db, err := openSqlite(filepath.Join(env.results(), "results.db"))
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS results (
		fp TEXT PRIMARY KEY,
		cas TEXT NOT NULL
	)`); err != nil {
		db.Close()
		return nil, errcode.Annotate(err, "create results table")
	}
	return &Store{env: env, db: db}, nil
}

func (s *Store) close() error { return s.db.Close() }

// casPath returns the on-disk directory of a CAS entry.
func (s *Store) casPath(d Digest) string { return s.env.cas(d.String()) }

// lookup is an atomic point read of the result map. A mapping whose
// CAS entry has been removed from disk counts as a miss.
func (s *Store) lookup(fp Digest) (Digest, bool, error) {
	var cas string
	err := s.db.QueryRow(
		`SELECT cas FROM results WHERE fp = ?`, fp.String(),
	).Scan(&cas)
	if errors.Is(err, sql.ErrNoRows) {
		return Digest{}, false, nil
	}
	if err != nil {
		return Digest{}, false, errcode.Annotate(err, "read result map")
	}
	d, err := parseDigest(cas)
	if err != nil {
		return Digest{}, false, errcode.Annotate(err, "corrupt result map")
	}
	if _, err := os.Stat(s.casPath(d)); err != nil {
		if os.IsNotExist(err) {
			return Digest{}, false, nil
		}
		return Digest{}, false, err
	}
	return d, true, nil
}

// insert records a fingerprint to digest mapping. Re-inserting the
// same mapping is a no-op; a conflicting mapping is a
// StoreConflictError.
func (s *Store) insert(fp, cas Digest) error {
	if _, err := s.db.Exec(
		`INSERT INTO results (fp, cas) VALUES (?, ?)
		ON CONFLICT (fp) DO NOTHING`,
		fp.String(), cas.String(),
	); err != nil {
		return errcode.Annotate(err, "write result map")
	}

	var got string
	if err := s.db.QueryRow(
		`SELECT cas FROM results WHERE fp = ?`, fp.String(),
	).Scan(&got); err != nil {
		return errcode.Annotate(err, "read back result map")
	}
	if got != cas.String() {
		old, err := parseDigest(got)
		if err != nil {
			return errcode.Annotate(err, "corrupt result map")
		}
		return &StoreConflictError{
			Fingerprint: fp, Old: old, New: cas,
		}
	}
	return nil
}

// materialize hashes the collected output directory, moves it into
// the CAS under its digest, and makes the entry read-only. The move
// is atomic; when the entry already exists the directory is left for
// the caller's cleanup and the existing entry wins.
func (s *Store) materialize(dir string) (Digest, error) {
	d, err := treeDigest(dir)
	if err != nil {
		return Digest{}, err
	}

	final := s.casPath(d)
	if _, err := os.Stat(final); err == nil {
		return d, nil // identical content already stored
	} else if !os.IsNotExist(err) {
		return Digest{}, err
	}

	if err := makeTreeReadonly(dir); err != nil {
		return Digest{}, errcode.Annotate(err, "make entry read-only")
	}
	if err := os.Rename(dir, final); err != nil {
		// A concurrent materialize of identical content may have
		// won the rename.
		if _, statErr := os.Stat(final); statErr == nil {
			return d, nil
		}
		return Digest{}, errcode.Annotate(err, "commit CAS entry")
	}
	return d, nil
}

// treeDigest computes the canonical digest of an output tree: a
// depth-first traversal with entries sorted by name, hashing
// (name, kind, mode, content-or-recursive-digest) tuples. Identical
// trees digest identically regardless of filesystem order. Symlinks
// are rejected.
func treeDigest(dir string) (Digest, error) {
	entries, err := os.ReadDir(dir) // sorted by name
	if err != nil {
		return Digest{}, err
	}

	e := new(canonEncoder)
	e.count(len(entries))
	for _, ent := range entries {
		info, err := ent.Info()
		if err != nil {
			return Digest{}, err
		}
		p := filepath.Join(dir, ent.Name())
		e.str(ent.Name())
		switch {
		case info.Mode()&fs.ModeSymlink != 0:
			return Digest{}, errcode.InvalidArgf(
				"output %q is a symlink", p,
			)
		case ent.IsDir():
			e.tag('d')
			e.count(int(info.Mode().Perm()))
			sub, err := treeDigest(p)
			if err != nil {
				return Digest{}, err
			}
			e.raw(sub[:])
		case info.Mode().IsRegular():
			e.tag('f')
			e.count(int(info.Mode().Perm()))
			h, err := hashFileContent(p)
			if err != nil {
				return Digest{}, err
			}
			e.raw(h[:])
		default:
			return Digest{}, errcode.InvalidArgf(
				"output %q is not a regular file or directory", p,
			)
		}
	}
	return e.sum(), nil
}

// makeTreeReadonly strips write permission from every file and
// directory under dir, including dir itself.
func makeTreeReadonly(dir string) error {
	return filepath.WalkDir(dir, func(
		p string, d fs.DirEntry, err error,
	) error {
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		return os.Chmod(p, info.Mode().Perm()&^0222)
	})
}

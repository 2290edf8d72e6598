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
	"path/filepath"

	"shanhu.io/misc/errcode"
)

// metaHashCache is the persistent map from file metadata tuples to
// content hashes. It is write-once and idempotent: concurrent writers
// of the same key write the same value, so a lost race is harmless.
type metaHashCache struct {
	db *sql.DB
}

func openMetaHashCache(dir string) (*metaHashCache, error) {
	db, err := openSqlite(filepath.Join(dir, "meta.db"))
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS meta_hash (
		meta BLOB PRIMARY KEY,
		hash BLOB NOT NULL
	)`); err != nil {
		db.Close()
		return nil, errcode.Annotate(err, "create meta_hash table")
	}
	return &metaHashCache{db: db}, nil
}

func (c *metaHashCache) get(key []byte) (Digest, bool, error) {
	var bs []byte
	err := c.db.QueryRow(
		`SELECT hash FROM meta_hash WHERE meta = ?`, key,
	).Scan(&bs)
	if errors.Is(err, sql.ErrNoRows) {
		return Digest{}, false, nil
	}
	if err != nil {
		return Digest{}, false, errcode.Annotate(err, "read hash cache")
	}
	var d Digest
	if len(bs) != len(d) {
		return Digest{}, false, errcode.InvalidArgf(
			"hash cache entry has %d bytes", len(bs),
		)
	}
	copy(d[:], bs)
	return d, true, nil
}

func (c *metaHashCache) put(key []byte, h Digest) error {
	if _, err := c.db.Exec(
		`INSERT INTO meta_hash (meta, hash) VALUES (?, ?)
		ON CONFLICT (meta) DO NOTHING`,
		key, h[:],
	); err != nil {
		return errcode.Annotate(err, "write hash cache")
	}
	return nil
}

func (c *metaHashCache) close() error { return c.db.Close() }

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
	"encoding/binary"
	"os"
)

// fileMeta is the metadata tuple of one source file. It keys the
// persistent content-hash cache: when the metadata of a file is
// unchanged, its cached content hash is trusted without re-reading
// the file. The field set follows apenwarr's mtime comparison notes.
type fileMeta struct {
	Size      int64
	MtimeNano int64

	// Unix-only; zero elsewhere.
	Ino  uint64
	Mode uint32
	UID  uint32
	GID  uint32
}

func statFileMeta(p string) (*fileMeta, error) {
	info, err := os.Stat(p)
	if err != nil {
		return nil, err
	}
	m := &fileMeta{
		Size:      info.Size(),
		MtimeNano: info.ModTime().UnixNano(),
	}
	metaSys(info, m)
	return m, nil
}

// key returns the fixed-width little-endian encoding of the tuple,
// used as the cache key.
func (m *fileMeta) key() []byte {
	bs := make([]byte, 36)
	binary.LittleEndian.PutUint64(bs[0:], uint64(m.Size))
	binary.LittleEndian.PutUint64(bs[8:], uint64(m.MtimeNano))
	binary.LittleEndian.PutUint64(bs[16:], m.Ino)
	binary.LittleEndian.PutUint32(bs[24:], m.Mode)
	binary.LittleEndian.PutUint32(bs[28:], m.UID)
	binary.LittleEndian.PutUint32(bs[32:], m.GID)
	return bs
}

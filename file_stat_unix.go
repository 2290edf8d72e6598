//go:build unix

package rbt

import (
	"os"
	"syscall"
)

func metaSys(info os.FileInfo, m *fileMeta) {
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		m.Ino = st.Ino
		m.Mode = uint32(st.Mode)
		m.UID = st.Uid
		m.GID = st.Gid
	}
}

package rbt

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestEnv(t *testing.T) *env {
	t.Helper()
	root := t.TempDir()
	e := newEnv(
		filepath.Join(root, "project"),
		filepath.Join(root, "state"),
	)
	require.NoError(t, os.MkdirAll(e.src(), 0700))
	require.NoError(t, e.prepare())
	return e
}

func writeFile(t *testing.T, p, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0700))
	require.NoError(t, os.WriteFile(p, []byte(content), 0600))
}

func readFile(t *testing.T, p string) string {
	t.Helper()
	bs, err := os.ReadFile(p)
	require.NoError(t, err)
	return string(bs)
}

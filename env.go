package rbt

import (
	"os"
	"path"
	"path/filepath"
)

// env carries the filesystem layout of one invocation: the project
// root that source files resolve against, and the state root that
// holds the CAS, the persistent maps, logs and transient workspaces.
type env struct {
	projectRoot string
	stateRoot   string
}

func newEnv(projectRoot, stateRoot string) *env {
	return &env{
		projectRoot: projectRoot,
		stateRoot:   stateRoot,
	}
}

func (e *env) state(ps ...string) string {
	if len(ps) == 0 {
		return e.stateRoot
	}
	p := path.Join(ps...)
	return filepath.Join(e.stateRoot, filepath.FromSlash(p))
}

func (e *env) src(ps ...string) string {
	if len(ps) == 0 {
		return e.projectRoot
	}
	p := path.Join(ps...)
	return filepath.Join(e.projectRoot, filepath.FromSlash(p))
}

func (e *env) cas(ps ...string) string {
	return e.state(append([]string{"cas"}, ps...)...)
}

func (e *env) results() string { return e.state("results") }

func (e *env) metaCache() string { return e.state("meta-hash-cache") }

func (e *env) tmp() string { return e.state("tmp") }

func (e *env) logs(ps ...string) string {
	return e.state(append([]string{"logs"}, ps...)...)
}

// prepare creates the state root directory tree.
func (e *env) prepare() error {
	for _, dir := range []string{
		e.state(), e.cas(), e.results(), e.metaCache(),
		e.tmp(), e.logs(),
	} {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return err
		}
	}
	return nil
}

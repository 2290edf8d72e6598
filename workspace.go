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
	"io/fs"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"sort"

	"shanhu.io/misc/errcode"
	"shanhu.io/misc/osutil"
)

const (
	workspaceDir = "rbt-workspace"
	homeDir      = "rbt-home"
	outputsDir   = "rbt-outputs"
)

// jobLogs carries the on-disk capture of a job's stdout and stderr.
type jobLogs struct {
	Stdout string
	Stderr string
}

// execJob isolates and runs one job on a cache miss. It builds a
// throwaway workspace, materializes inputs as symlinks, scrubs the
// environment, spawns the command, collects declared outputs and
// hands them to the store.
type execJob struct {
	env  *env
	name string
	job  *Job

	fullFP   Digest
	toolPath string

	// casOf resolves a dependency's arena index to its CAS entry
	// directory.
	casOf func(job int) string

	inheritPath bool
}

// inputTarget remembers a symlink target's pre-run mtime so that
// write-through via the symlink can be detected afterwards.
type inputTarget struct {
	dest      string
	src       string
	mtimeNano int64
}

// run executes the job and returns the committed CAS digest of its
// outputs. The temp directory is removed on every exit path.
func (x *execJob) run(ctx context.Context, store *Store) (
	Digest, *jobLogs, error,
) {
	tempDir, err := os.MkdirTemp(x.env.tmp(), "job-*")
	if err != nil {
		return Digest{}, nil, errcode.Annotate(err, "create temp dir")
	}
	defer removeAllForce(tempDir)

	ws := filepath.Join(tempDir, workspaceDir)
	home := filepath.Join(tempDir, homeDir)
	for _, dir := range []string{ws, home} {
		if err := os.Mkdir(dir, 0700); err != nil {
			return Digest{}, nil, errcode.Annotate(err, "make workspace")
		}
	}

	targets, err := x.materializeInputs(ws)
	if err != nil {
		return Digest{}, nil, errcode.Annotate(err, "prepare workspace")
	}

	logs, err := x.spawn(ctx, ws, home)
	if err != nil {
		return Digest{}, logs, err
	}

	x.warnInputWrites(targets)
	x.warnHomeWrites(home)

	outDir := filepath.Join(tempDir, outputsDir)
	if err := x.collectOutputs(ws, outDir); err != nil {
		return Digest{}, logs, err
	}

	d, err := store.materialize(outDir)
	if err != nil {
		return Digest{}, logs, errcode.Annotatef(
			err, "store outputs of %s", x.name,
		)
	}
	return d, logs, nil
}

// materializeInputs symlinks every input mapping into the workspace.
// Sources resolve against the project root or the dependency's CAS
// entry; a conflict on a destination is a fatal setup error.
func (x *execJob) materializeInputs(ws string) ([]*inputTarget, error) {
	var targets []*inputTarget
	for _, in := range x.job.Inputs {
		root := x.env.src()
		if in.fromJob() {
			root = x.casOf(in.Job)
		}
		for _, m := range in.Files {
			src := filepath.Join(root, filepath.FromSlash(m.Source))
			info, err := os.Stat(src)
			if err != nil {
				if os.IsNotExist(err) && !in.fromJob() {
					return nil, &InputMissingError{Path: m.Source}
				}
				return nil, errcode.Annotatef(
					err, "stat input %q", m.Source,
				)
			}

			dest := filepath.Join(ws, filepath.FromSlash(m.Dest))
			if err := os.MkdirAll(
				filepath.Dir(dest), 0700,
			); err != nil {
				return nil, errcode.Annotatef(
					err, "make parents for %q", m.Dest,
				)
			}
			if err := os.Symlink(src, dest); err != nil {
				return nil, errcode.Annotatef(
					err, "link input %q", m.Dest,
				)
			}
			targets = append(targets, &inputTarget{
				dest:      m.Dest,
				src:       src,
				mtimeNano: info.ModTime().UnixNano(),
			})
		}
	}
	return targets, nil
}

// spawn runs the command with cwd at the workspace and a scrubbed
// environment: HOME points at the fake home, PATH is inherited or
// empty, and the job's declared environment overlays last.
func (x *execJob) spawn(ctx context.Context, ws, home string) (
	*jobLogs, error,
) {
	logs := &jobLogs{
		Stdout: x.env.logs(x.fullFP.String() + ".out.log"),
		Stderr: x.env.logs(x.fullFP.String() + ".err.log"),
	}
	stdout, err := os.Create(logs.Stdout)
	if err != nil {
		return nil, errcode.Annotate(err, "create stdout log")
	}
	defer stdout.Close()
	stderr, err := os.Create(logs.Stderr)
	if err != nil {
		return nil, errcode.Annotate(err, "create stderr log")
	}
	defer stderr.Close()

	cmd := exec.CommandContext(ctx, x.toolPath, x.job.Command.Args...)
	cmd.Dir = ws
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	cmd.Env = []string{"HOME=" + home}
	if x.inheritPath {
		osutil.CmdCopyEnv(cmd, "PATH")
	} else {
		cmd.Env = append(cmd.Env, "PATH=")
	}
	// Declared environment last; on duplicate keys the last entry
	// wins, so the job's declaration beats the defaults.
	var keys []string
	for k := range x.job.Command.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		cmd.Env = append(cmd.Env, k+"="+x.job.Command.Env[k])
	}

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return logs, ErrCancelled
		}
		if exit, ok := err.(*exec.ExitError); ok {
			return logs, &ExecFailedError{
				Job: x.name, Code: exit.ExitCode(),
			}
		}
		return logs, errcode.Annotatef(err, "run %s", x.name)
	}
	return logs, nil
}

// collectOutputs moves every declared output from the workspace into
// a fresh directory laid out at the declared paths.
func (x *execJob) collectOutputs(ws, outDir string) error {
	if err := os.Mkdir(outDir, 0700); err != nil {
		return errcode.Annotate(err, "make outputs dir")
	}
	for _, out := range x.job.Outputs {
		src := filepath.Join(ws, filepath.FromSlash(out))
		info, err := os.Lstat(src)
		if err != nil {
			if os.IsNotExist(err) {
				return &OutputMissingError{Job: x.name, Path: out}
			}
			return errcode.Annotatef(err, "stat output %q", out)
		}
		if info.Mode()&fs.ModeSymlink != 0 {
			return errcode.InvalidArgf(
				"output %q of %s is a symlink", out, x.name,
			)
		}
		if !info.IsDir() && !info.Mode().IsRegular() {
			return &OutputMissingError{Job: x.name, Path: out}
		}

		dest := filepath.Join(outDir, filepath.FromSlash(out))
		if err := os.MkdirAll(filepath.Dir(dest), 0700); err != nil {
			return errcode.Annotatef(
				err, "make parents for output %q", out,
			)
		}
		if err := os.Rename(src, dest); err != nil {
			return errcode.Annotatef(err, "collect output %q", out)
		}
	}
	return nil
}

// warnInputWrites compares pre- and post-run mtimes of symlink
// targets. A changed target means the job wrote through an input
// link; this is a warning, not a failure.
func (x *execJob) warnInputWrites(targets []*inputTarget) {
	for _, t := range targets {
		info, err := os.Stat(t.src)
		if err != nil {
			log.Printf(
				"warning: %s: input %s disappeared during the build",
				x.name, t.dest,
			)
			continue
		}
		if info.ModTime().UnixNano() != t.mtimeNano {
			log.Printf(
				"warning: %s wrote through input link %s",
				x.name, t.dest,
			)
		}
	}
}

func (x *execJob) warnHomeWrites(home string) {
	entries, err := os.ReadDir(home)
	if err != nil {
		return
	}
	if len(entries) > 0 {
		log.Printf(
			"warning: %s wrote %d entries into its home directory",
			x.name, len(entries),
		)
	}
}

// removeAllForce removes a temp tree, restoring directory write bits
// first so that read-only staging leftovers do not survive.
func removeAllForce(dir string) {
	filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			os.Chmod(p, 0700)
		}
		return nil
	})
	if err := os.RemoveAll(dir); err != nil {
		log.Printf("cleanup %s: %s", dir, err)
	}
}

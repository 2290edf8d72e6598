package rbt

import (
	"os/exec"
	"path/filepath"

	"shanhu.io/misc/errcode"
	"shanhu.io/misc/osutil"
)

// resolveTool returns the absolute path of the executable a job runs.
// System tools are searched on the host PATH; tools from a job are
// resolved within the producing job's CAS entry.
func resolveTool(tool *Tool, casOf func(job int) string) (string, error) {
	if tool.fromJob() {
		p := filepath.Join(
			casOf(tool.Job), filepath.FromSlash(tool.File),
		)
		isFile, err := osutil.IsRegular(p)
		if err != nil {
			return "", errcode.Annotatef(err, "check tool %q", tool.File)
		}
		if !isFile {
			return "", &ToolNotFoundError{Name: tool.File}
		}
		return p, nil
	}

	p, err := exec.LookPath(tool.Name)
	if err != nil {
		return "", &ToolNotFoundError{Name: tool.Name}
	}
	return filepath.Abs(p)
}

package rbt

import (
	"io"
	"io/fs"
	"path/filepath"

	"shanhu.io/misc/errcode"
	"shanhu.io/misc/tarutil"
)

// ExportOutputs streams a CAS entry as a tarball, with files at their
// declared output paths.
func ExportOutputs(casPath string, w io.Writer) error {
	ts := tarutil.NewStream()
	walk := func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(casPath, p)
		if err != nil {
			return err
		}
		mode := int64(info.Mode().Perm())
		ts.AddFile(filepath.ToSlash(rel), tarutil.ModeMeta(mode), p)
		return nil
	}
	if err := filepath.WalkDir(casPath, walk); err != nil {
		return errcode.Annotate(err, "walk outputs")
	}
	if _, err := ts.WriteTo(w); err != nil {
		return errcode.Annotate(err, "write tar stream")
	}
	return nil
}

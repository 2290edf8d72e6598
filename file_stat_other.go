//go:build !unix

package rbt

import "os"

func metaSys(os.FileInfo, *fileMeta) {}

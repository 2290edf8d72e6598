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

package rbtbin

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/roc-lang/rbt"
	"shanhu.io/misc/errcode"
	"shanhu.io/text/lexing"
)

func loadGraph(config *rbt.RunConfig) (*rbt.Graph, error) {
	f := filepath.Join(config.Project, rbt.BuildFileName)
	g, errs := rbt.LoadGraph(f)
	if errs != nil {
		lexing.FprintErrs(os.Stderr, errs, config.Project)
		return nil, errcode.InvalidArgf(
			"loading build file got %d errors", len(errs),
		)
	}
	return g, nil
}

func runGraph(g *rbt.Graph, config *rbt.RunConfig) (
	*rbt.InvocationResult, error,
) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	result, err := rbt.Run(ctx, g, config)
	if err != nil {
		return nil, err
	}
	if result.Failed {
		for _, j := range result.Jobs {
			if j.Err != nil {
				log.Printf("%s: %s", j.Name, j.Err)
				if j.Logs != nil {
					log.Printf("%s: stderr at %s", j.Name, j.Logs.Stderr)
				}
			}
		}
		return nil, errcode.Internalf("build failed")
	}
	return result, nil
}

func cmdBuild(args []string) error {
	flags := cmdFlags.New()
	config := new(rbt.RunConfig)
	declareRunFlags(flags, config)
	flags.ParseArgs(args)

	g, err := loadGraph(config)
	if err != nil {
		return err
	}
	result, err := runGraph(g, config)
	if err != nil {
		return err
	}
	fmt.Println(result.Default.CASPath)
	return nil
}

func cmdOutputs(args []string) error {
	flags := cmdFlags.New()
	config := new(rbt.RunConfig)
	declareRunFlags(flags, config)
	tar := false
	flags.BoolVar(&tar, "tar", false, "write the outputs as a tarball to stdout")
	args = flags.ParseArgs(args)

	g, err := loadGraph(config)
	if err != nil {
		return err
	}
	result, err := runGraph(g, config)
	if err != nil {
		return err
	}

	job := result.Default
	if len(args) > 0 {
		if job = result.Find(args[0]); job == nil {
			return errcode.NotFoundf("job %q not found", args[0])
		}
	}

	if tar {
		return rbt.ExportOutputs(job.CASPath, os.Stdout)
	}
	fmt.Println(job.CASPath)
	return nil
}

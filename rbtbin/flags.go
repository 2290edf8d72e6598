package rbtbin

import (
	"github.com/roc-lang/rbt"
	"shanhu.io/misc/flagutil"
)

var cmdFlags = flagutil.NewFactory("rbt")

func declareRunFlags(flags *flagutil.FlagSet, c *rbt.RunConfig) {
	flags.StringVar(&c.Project, "project", ".", "project root directory")
	flags.StringVar(&c.StateRoot, "state", ".rbt", "state root directory")
	flags.IntVar(&c.Jobs, "jobs", 0, "max concurrent jobs; 0 means CPU count")
	flags.BoolVar(
		&c.ScrubPath, "scrub_path", false,
		"run jobs with an empty PATH instead of the inherited one",
	)
	flags.BoolVar(
		&c.Force, "force", false,
		"re-execute jobs even when the result map has a hit",
	)
}

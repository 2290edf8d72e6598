package main

import (
	"github.com/roc-lang/rbt/rbtbin"
)

func main() { rbtbin.Main() }

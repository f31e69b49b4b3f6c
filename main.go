package main

import (
	"os"

	"github.com/babelcloud/gbox/packages/avmux/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

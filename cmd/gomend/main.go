package main

import (
	"os"

	"github.com/jskelly/gomend/pkg/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}

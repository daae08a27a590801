package main

import (
	"fmt"
	"os"

	"github.com/platinummonkey/beacon/pkg/cli"
)

// version is overwritten at build time using -ldflags
var version = "dev"

func main() {
	if err := cli.NewRootCommand(version).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

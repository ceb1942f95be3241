// Package main is the entry point for the duckbridge CLI binary.
package main

import (
	"os"

	cli "duckbridge/pkg/cli"
)

func main() {
	os.Exit(cli.Execute())
}

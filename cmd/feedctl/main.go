// Package main is the entry point for feedctl, the operator tool for the
// feedplane admin API.
package main

import (
	"os"

	"feedplane/cmd/feedctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

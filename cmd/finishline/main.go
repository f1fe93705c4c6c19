// Package main is the entry point for the finishline viewer and admin CLI.
package main

import (
	"os"

	"github.com/intermernet/finishline/cmd/finishline/app"
)

func main() {
	if err := app.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// Package main is the entry point for the reply service.
package main

import (
	"os"

	_ "go.uber.org/automaxprocs/maxprocs"

	"github.com/kart-io/reply-x/cmd/replyd/app"
)

func main() {
	if err := app.NewCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

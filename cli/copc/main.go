// Package main is the copc command line tool.
package main

import (
	"os"

	"go.viam.com/copc/cli"
	"go.viam.com/copc/logging"
)

func main() {
	logging.ReplaceGlobal(logging.NewLogger("copc"))
	app := cli.NewApp(os.Stdout, os.Stderr)
	if err := app.Run(os.Args); err != nil {
		logging.Global().Error(err)
		os.Exit(1)
	}
}

package main

import (
	"os"

	"github.com/yegors/co-scribe/internal/cli"
	"github.com/yegors/co-scribe/internal/output"
)

func main() {
	deps := &cli.Dependencies{}
	err := cli.NewRootCmd(deps).Execute()
	if deps.App != nil {
		deps.App.Close()
	}
	if err != nil {
		output.NewFormatter(os.Stderr).Error(err.Error())
		os.Exit(1)
	}
}

package main

import (
	"os"

	"github.com/sirupsen/logrus"

	_ "github.com/denysvitali/ampeco-ha/cmd/diagnostics"
	_ "github.com/denysvitali/ampeco-ha/cmd/list"
	"github.com/denysvitali/ampeco-ha/cmd/root"
	_ "github.com/denysvitali/ampeco-ha/cmd/run"
	_ "github.com/denysvitali/ampeco-ha/cmd/start"
	_ "github.com/denysvitali/ampeco-ha/cmd/status"
	_ "github.com/denysvitali/ampeco-ha/cmd/stop"
	_ "github.com/denysvitali/ampeco-ha/cmd/version"
)

func main() {
	if err := root.RootCmd.Execute(); err != nil {
		logrus.Error(err)
		os.Exit(1)
	}
}

package main

import (
	"os"

	_ "go.uber.org/automaxprocs"
	"k8s.io/apiserver/pkg/server"

	"github.com/autopeer-io/ledserver/cmd/ledserver/app"
)

func main() {
	ctx := server.SetupSignalContext()
	if err := app.NewLedServerCommand(ctx).Execute(); err != nil {
		os.Exit(1)
	}
}

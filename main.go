package main

import (
	"go.uber.org/zap"

	"cloudfleet/cmd"
	"cloudfleet/internal/logging"
)

func main() {
	if err := logging.InitLogger(); err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		if err := logging.Sync(); err != nil {
			// stderr sync fails on some terminals
			logging.Logger().Debug("failed to sync logger on exit", zap.Error(err))
		}
	}()

	cmd.Execute()
}

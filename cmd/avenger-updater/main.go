package main

import (
	"os"

	cmd "github.com/sccmavenger/avenger-updater/internal"
	"github.com/sccmavenger/avenger-updater/internal/logger"
)

func main() {
	if err := cmd.Execute(); err != nil {
		logger.LogError(err.Error())
		os.Exit(1)
	}
}

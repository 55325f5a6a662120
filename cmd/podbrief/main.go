package main

import (
	"errors"
	"os"

	"github.com/podbrief/podbrief/internal/pipeline"
	"github.com/podbrief/podbrief/internal/settings"
)

var version = "dev"

// errBadConfig marks environment/bootstrap configuration failures so they
// exit with the same code as settings-table problems.
var errBadConfig = errors.New("invalid configuration")

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(exitCode(err))
	}
}

// exitCode maps a command error to the process exit code: 2 for
// configuration problems, 3 when an external dependency was down for the
// whole run, 1 for everything else.
func exitCode(err error) int {
	var cfgErr *settings.Error
	if errors.As(err, &cfgErr) || errors.Is(err, errBadConfig) {
		return 2
	}
	if errors.Is(err, pipeline.ErrOutage) {
		return 3
	}
	return 1
}

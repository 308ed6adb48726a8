// Command jobmond is the per-job monitor. The launcher starts one
// instance per job, detached in its own session; it spawns the wrapped
// process, waits out suspend/resume cycles, and finalises the terminal
// state in the job store. Its stdout/stderr are redirected by the
// launcher into the entry's monitor.log.
package main

import (
	"fmt"
	"os"

	"github.com/jobtend/jobtend/internal/jobstore"
	"github.com/jobtend/jobtend/internal/log"
	"github.com/jobtend/jobtend/internal/supervisor"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err.Error())
		os.Exit(1)
	}
}

func run() error {
	cfg := parseFlags()

	if err := cfg.validate(); err != nil {
		return err
	}

	logger := log.New(os.Stderr, cfg.debug)

	store, err := jobstore.New(cfg.storeDir)
	if err != nil {
		return err
	}

	monitor := supervisor.NewMonitor(
		store,
		cfg.jobID,
		cfg.maxCaptureBytes,
		logger,
	)

	return monitor.Run()
}

package main

import (
	"errors"

	// NOTE: The std lib flag package would be fine, but wanted consistent
	// UX with the jobtend CLI without the overhead of cobra for a binary
	// that is only ever invoked by the launcher, so using pflag.
	"github.com/spf13/pflag"
)

type config struct {
	storeDir        string
	jobID           string
	maxCaptureBytes int64
	debug           bool
}

func (c *config) validate() error {
	if c.storeDir == "" {
		return errors.New("store-dir cannot be empty")
	}

	if c.jobID == "" {
		return errors.New("job-id cannot be empty")
	}

	return nil
}

func parseFlags() *config {
	cfg := &config{}

	pflag.StringVar(&cfg.storeDir, "store-dir", "", "Base directory of the job store")
	pflag.StringVar(&cfg.jobID, "job-id", "", "Id of the job entry to monitor")
	pflag.BoolVar(&cfg.debug, "debug", false, "Enable debug logs")

	pflag.Int64Var(
		&cfg.maxCaptureBytes,
		"max-capture-bytes",
		0,
		"Per-stream output capture limit in bytes (0 for unbounded)",
	)

	pflag.Parse()

	return cfg
}

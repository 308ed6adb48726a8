package main

import (
	"encoding/base64"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/jobtend/jobtend/internal/config"
	"github.com/jobtend/jobtend/internal/jobstore"
	"github.com/jobtend/jobtend/internal/log"
	"github.com/jobtend/jobtend/internal/supervisor"
	"github.com/spf13/cobra"
)

// TODO: Inject version at build time.
const version = "0.0.1"

type cliFlags struct {
	configPath      string
	storeDir        string
	monitorBin      string
	maxCaptureBytes int64
	debug           bool
}

type cli struct {
	sup *supervisor.Supervisor
}

func newCLI() *cli {
	return &cli{}
}

func (c *cli) rootCmd() *cobra.Command {
	flags := &cliFlags{}

	command := &cobra.Command{
		Use:          "jobtend",
		Short:        "Supervise POSIX commands as durable, controllable background jobs",
		Version:      version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(flags.configPath)
			if err != nil {
				return err
			}

			if cmd.Flags().Changed("store-dir") {
				cfg.StoreDir = flags.storeDir
			}

			if cmd.Flags().Changed("monitor-bin") {
				cfg.MonitorBin = flags.monitorBin
			}

			if cmd.Flags().Changed("max-capture-bytes") {
				cfg.MaxCaptureBytes = flags.maxCaptureBytes
			}

			if cmd.Flags().Changed("debug") {
				cfg.Debug = flags.debug
			}

			// Inability to access the base storage location is the single
			// fatal condition; nothing below can run without it.
			store, err := jobstore.New(cfg.StoreDir)
			if err != nil {
				return err
			}

			logger := log.New(cmd.ErrOrStderr(), cfg.Debug)

			c.sup = supervisor.New(
				store,
				cfg.MonitorBin,
				cfg.MaxCaptureBytes,
				logger,
			)

			return nil
		},
	}

	command.AddCommand(
		c.runCmd(),
		c.stateCmd(),
		c.suspendCmd(),
		c.resumeCmd(),
		c.cancelCmd(),
		c.stdinCmd(),
		c.stdoutCmd(),
		c.stderrCmd(),
		c.listCmd(),
		c.purgeCmd(),
	)

	command.CompletionOptions.HiddenDefaultCmd = true

	command.PersistentFlags().StringVar(
		&flags.configPath,
		"config",
		"",
		"Path to yaml config file",
	)

	command.PersistentFlags().StringVar(
		&flags.storeDir,
		"store-dir",
		"",
		"Base directory of the job store",
	)

	command.PersistentFlags().StringVar(
		&flags.monitorBin,
		"monitor-bin",
		"",
		"Path to the jobmond monitor binary",
	)

	command.PersistentFlags().Int64Var(
		&flags.maxCaptureBytes,
		"max-capture-bytes",
		0,
		"Per-stream output capture limit in bytes (0 for unbounded)",
	)

	command.PersistentFlags().BoolVar(
		&flags.debug,
		"debug",
		false,
		"Enable debug logs",
	)

	return command
}

func (c *cli) runCmd() *cobra.Command {
	command := &cobra.Command{
		Use:     "run [flags] JOB_PROGRAM [JOB_ARGS]",
		Short:   "Submit a new job; returns its id immediately",
		Example: "  jobtend run /bin/sleep 100",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := c.sup.Run(args)
			if err != nil {
				return err
			}

			cmd.OutOrStdout().Write([]byte(id + "\n"))

			return nil
		},
	}

	// Stop parsing args after the first position so that flags passed to
	// the program to run are not interpreted by the jobtend CLI and are
	// passed as-is, e.g. `-f` is an argument to `tail` _not_ to
	// `jobtend run`:
	//	`jobtend run tail -f server.log`
	command.Flags().SetInterspersed(false)

	return command
}

func (c *cli) stateCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "state [flags] JOB_ID",
		Short:   "Query the persisted state of a job",
		Example: "  jobtend state 9302033c-f8f7-4b6e-9363-a7aa201cce1b",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			state, err := c.sup.State(args[0])
			if err != nil {
				return err
			}

			cmd.OutOrStdout().Write([]byte(state.String() + "\n"))

			return nil
		},
	}
}

func (c *cli) suspendCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "suspend [flags] JOB_ID",
		Short:   "Suspend a running job",
		Example: "  jobtend suspend 9302033c-f8f7-4b6e-9363-a7aa201cce1b",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.sup.Suspend(args[0])
		},
	}
}

func (c *cli) resumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "resume [flags] JOB_ID",
		Short:   "Resume a suspended job",
		Example: "  jobtend resume 9302033c-f8f7-4b6e-9363-a7aa201cce1b",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.sup.Resume(args[0])
		},
	}
}

func (c *cli) cancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "cancel [flags] JOB_ID",
		Short:   "Cancel a running or suspended job",
		Example: "  jobtend cancel 9302033c-f8f7-4b6e-9363-a7aa201cce1b",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.sup.Cancel(args[0])
		},
	}
}

func (c *cli) stdinCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stdin [flags] JOB_ID [TEXT]",
		Short: "Append input to a job's stdin buffer",
		Long: "Append input to a job's stdin buffer. With TEXT, a trailing " +
			"newline is appended; without, raw bytes are read from stdin.",
		Example: "  jobtend stdin 9302033c-f8f7-4b6e-9363-a7aa201cce1b 'a line of input'",
		Args:    cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var data []byte

			if len(args) == 2 {
				data = []byte(args[1] + "\n")
			} else {
				var err error
				if data, err = io.ReadAll(cmd.InOrStdin()); err != nil {
					return err
				}
			}

			return c.sup.Stdin(args[0], data)
		},
	}
}

func (c *cli) stdoutCmd() *cobra.Command {
	raw := false

	command := &cobra.Command{
		Use:     "stdout [flags] JOB_ID",
		Short:   "Retrieve a job's captured stdout, base64-encoded",
		Example: "  jobtend stdout --raw 9302033c-f8f7-4b6e-9363-a7aa201cce1b",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			encoded, err := c.sup.Stdout(args[0])
			if err != nil {
				return err
			}

			return writeOutput(cmd.OutOrStdout(), encoded, raw)
		},
	}

	command.Flags().BoolVar(&raw, "raw", false, "Decode the capture locally")

	return command
}

func (c *cli) stderrCmd() *cobra.Command {
	raw := false

	command := &cobra.Command{
		Use:     "stderr [flags] JOB_ID",
		Short:   "Retrieve a job's captured stderr, base64-encoded",
		Example: "  jobtend stderr --raw 9302033c-f8f7-4b6e-9363-a7aa201cce1b",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			encoded, err := c.sup.Stderr(args[0])
			if err != nil {
				return err
			}

			return writeOutput(cmd.OutOrStdout(), encoded, raw)
		},
	}

	command.Flags().BoolVar(&raw, "raw", false, "Decode the capture locally")

	return command
}

func (c *cli) listCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Short:   "List all jobs with live entries",
		Example: "  jobtend list",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := c.sup.List()
			if err != nil {
				return err
			}

			// TODO: Only output headers if TTY, or add a --plain flag.
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)

			fmt.Fprintf(w, "JOB ID\tSTATE\t\n")

			for _, id := range ids {
				fmt.Fprintf(w, "%s\t%s\t\n", id, c.listState(id))
			}

			return w.Flush()
		},
	}
}

// listState renders a job's state for the listing, tolerating entries
// whose metadata is still incomplete.
func (c *cli) listState(id string) string {
	state, err := c.sup.State(id)
	if err != nil {
		return jobstore.StateUnknown.String()
	}

	return state.String()
}

func (c *cli) purgeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "purge [flags] [JOB_ID]",
		Short: "Remove a job entry, or all entries in a terminal state",
		Long: "With JOB_ID, unconditionally remove that entry. Without, " +
			"remove every entry in a terminal state (DONE, FAILED, CANCELED) " +
			"and leave all others untouched.",
		Example: "  jobtend purge",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				return c.sup.Purge(args[0])
			}

			return c.sup.PurgeTerminal()
		},
	}
}

// writeOutput writes the retrieved capture, decoding it first when raw
// output was requested.
func writeOutput(w io.Writer, encoded string, raw bool) error {
	if !raw {
		_, err := w.Write([]byte(encoded + "\n"))
		return err
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("failed to decode capture: %w", err)
	}

	_, err = w.Write(data)

	return err
}

// Package app wires parsed commands to the listener, one-shot sessions and
// diagnostics.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"

	"github.com/rbright/resound/internal/audio"
	"github.com/rbright/resound/internal/cli"
	"github.com/rbright/resound/internal/config"
	"github.com/rbright/resound/internal/doctor"
	"github.com/rbright/resound/internal/logging"
	"github.com/rbright/resound/internal/version"
)

const binaryName = "resound"

// Runner executes one CLI invocation against its output streams.
type Runner struct {
	Stdout io.Writer
	Stderr io.Writer
	Logger *slog.Logger
}

// Execute runs args and returns the process exit code.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	r := Runner{Stdout: stdout, Stderr: stderr}
	return r.Execute(ctx, args)
}

func (r Runner) Execute(ctx context.Context, args []string) int {
	parsed, err := cli.Parse(args)
	switch {
	case err != nil:
		fmt.Fprintf(r.Stderr, "error: %v\n\n%s", err, cli.HelpText(binaryName))
		return 2
	case parsed.ShowHelp:
		fmt.Fprint(r.Stdout, cli.HelpText(binaryName))
		return 0
	case parsed.Command == cli.CommandVersion:
		fmt.Fprintln(r.Stdout, version.String())
		return 0
	}

	loaded, logger, closeLog, err := r.prepare(parsed)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	defer closeLog()

	cfg := loaded.Config
	switch parsed.Command {
	case cli.CommandDoctor:
		report := doctor.Run(ctx, loaded)
		fmt.Fprintln(r.Stdout, report.String())
		if !report.OK() {
			return 1
		}
		return 0
	case cli.CommandDevices:
		return r.commandDevices(ctx)
	case cli.CommandStatus:
		return r.commandStatus(ctx)
	case cli.CommandListen:
		return r.commandListen(ctx, cfg, logger)
	case cli.CommandTrigger:
		return r.commandTrigger(ctx, cfg, logger)
	default:
		fmt.Fprintf(r.Stderr, "error: unsupported command %q\n", parsed.Command)
		return 2
	}
}

// prepare loads config, opens the log sink and reports config warnings.
func (r Runner) prepare(parsed cli.Parsed) (config.Loaded, *slog.Logger, func(), error) {
	loaded, err := config.Load(parsed.ConfigPath)
	if err != nil {
		return config.Loaded{}, nil, nil, err
	}

	level, err := loaded.Config.Log.SlogLevel()
	if err != nil {
		return config.Loaded{}, nil, nil, err
	}
	sink, err := logging.New(logging.Options{
		Level:     level,
		MaxSizeKB: loaded.Config.Log.MaxSizeKB,
		MaxFiles:  loaded.Config.Log.MaxFiles,
	})
	if err != nil {
		return config.Loaded{}, nil, nil, fmt.Errorf("setup logging: %w", err)
	}

	logger := r.Logger
	if logger == nil {
		logger = sink.Logger
	}

	for _, w := range loaded.Warnings {
		if w.Line > 0 {
			fmt.Fprintf(r.Stderr, "warning: line %d: %s\n", w.Line, w.Message)
		} else {
			fmt.Fprintf(r.Stderr, "warning: %s\n", w.Message)
		}
		logger.Warn("config warning", "line", w.Line, "message", w.Message)
	}

	logger.Info("command start",
		"command", parsed.Command,
		"config", loaded.Path,
		"log", sink.Path,
		"endpoint", loaded.Config.Endpoint.UploadURL(),
	)
	return loaded, logger, func() { _ = sink.Close() }, nil
}

// commandDevices prints one row per capture source; * marks the default.
func (r Runner) commandDevices(ctx context.Context) int {
	devices, err := audio.ListDevices(ctx)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if len(devices) == 0 {
		fmt.Fprintln(r.Stdout, "no audio devices found")
		return 1
	}

	yesNo := map[bool]string{true: "yes", false: "no"}
	tw := tabwriter.NewWriter(r.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\tID\tDESCRIPTION\tSTATE\tAVAILABLE\tMUTED")
	for _, d := range devices {
		mark := ""
		if d.Default {
			mark = "*"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", mark, d.ID, d.Description, d.State, yesNo[d.Available], yesNo[d.Muted])
	}
	if err := tw.Flush(); err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

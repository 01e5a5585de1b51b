// Package cli parses resound command-line arguments.
package cli

import (
	"errors"
	"fmt"
	"strings"
)

type Command string

const (
	CommandListen  Command = "listen"
	CommandTrigger Command = "trigger"
	CommandStatus  Command = "status"
	CommandDevices Command = "devices"
	CommandDoctor  Command = "doctor"
	CommandVersion Command = "version"
	CommandHelp    Command = "help"
)

// commands lists every command in help order with its one-line summary.
var commands = []struct {
	name    Command
	summary string
}{
	{CommandListen, "Run the listener: own the session, serve triggers and metrics"},
	{CommandTrigger, "Record a clip and identify it (via the listener when running)"},
	{CommandStatus, "Print the listener's current state"},
	{CommandDevices, "List available input devices"},
	{CommandDoctor, "Run configuration and environment checks"},
	{CommandVersion, "Print version information"},
	{CommandHelp, "Show this help"},
}

func lookup(name string) (Command, bool) {
	for _, c := range commands {
		if string(c.name) == name {
			return c.name, true
		}
	}
	return "", false
}

// Parsed is the outcome of Parse. With no command, ShowHelp is set.
type Parsed struct {
	Command    Command
	ConfigPath string
	ShowHelp   bool
}

// Parse accepts global flags in any position and at most one command.
// --help wins over any command; --version stands in for the version command.
func Parse(args []string) (Parsed, error) {
	var (
		parsed  Parsed
		command Command
		help    bool
		version bool
	)

	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "-h" || arg == "--help":
			help = true
		case arg == "--version":
			version = true
		case arg == "-c" || arg == "--config":
			if i+1 >= len(args) || args[i+1] == "" {
				return Parsed{}, fmt.Errorf("%s requires a path", arg)
			}
			i++
			parsed.ConfigPath = args[i]
		case strings.HasPrefix(arg, "--config="):
			parsed.ConfigPath = strings.TrimPrefix(arg, "--config=")
			if parsed.ConfigPath == "" {
				return Parsed{}, errors.New("--config requires a path")
			}
		case strings.HasPrefix(arg, "-"):
			return Parsed{}, fmt.Errorf("unknown flag: %s", arg)
		case command != "":
			return Parsed{}, fmt.Errorf("unexpected argument %q after command %q", arg, command)
		default:
			cmd, ok := lookup(arg)
			if !ok {
				return Parsed{}, fmt.Errorf("unknown command: %s", arg)
			}
			command = cmd
		}
	}

	switch {
	case help || command == CommandHelp || (command == "" && !version):
		parsed.Command = CommandHelp
		parsed.ShowHelp = true
	case command == "":
		parsed.Command = CommandVersion
	default:
		parsed.Command = command
	}
	return parsed, nil
}

// HelpText renders usage for binaryName.
func HelpText(binaryName string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Usage:\n  %s [--config PATH] <command>\n\nCommands:\n", binaryName)
	for _, c := range commands {
		fmt.Fprintf(&b, "  %-9s %s\n", c.name, c.summary)
	}
	b.WriteString(`
Flags:
  -c, --config PATH   Config file path (default: $XDG_CONFIG_HOME/resound/config.jsonc)
  -h, --help          Show help
  --version           Show version
`)
	return b.String()
}

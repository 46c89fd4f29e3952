// Command fish is the CLI entrypoint: -c/--command, -i/--interactive,
// -l/--login, -p/--profile, -d/--debug, --features, and a positional
// script-file argument.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/fish-shell/fish-shell-sub008/internal/shell"
)

// Exit codes this entrypoint itself can produce; the shell supplies the
// rest via $status and os.Exit.
const (
	ecGeneralFailure = 1
	ecMisuse         = 2
)

var (
	commandFlag     string
	interactiveFlag bool
	loginFlag       bool
	profileFlag     string
	debugFlag       string
	featuresFlag    []string
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "fish [flags] [script-file]",
		Short:         "fish — the friendly interactive shell",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.MaximumNArgs(1),
		RunE:          runFish,
	}
	bindFlags(cmd.Flags())
	return cmd
}

func bindFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&commandFlag, "command", "c", "", "evaluate the given command string instead of reading a script")
	fs.BoolVarP(&interactiveFlag, "interactive", "i", false, "run in interactive mode")
	fs.BoolVarP(&loginFlag, "login", "l", false, "act as a login shell")
	fs.StringVarP(&profileFlag, "profile", "p", "", "write a profile of the execution to the given path")
	fs.StringVarP(&debugFlag, "debug", "d", "", "enable debug output for the given category")
	fs.StringSliceVar(&featuresFlag, "features", nil, "comma-separated name=value feature overrides")
}

func runFish(cmd *cobra.Command, args []string) error {
	interactive := interactiveFlag
	if commandFlag == "" && len(args) == 0 && !interactiveFlag {
		// With no -c and no script file, behave as an interactive shell
		// reading from stdin.
		interactive = true
	}

	s, err := shell.New(shell.Options{
		Interactive: interactive,
		Login:       loginFlag,
	})
	if err != nil {
		return err
	}
	defer s.Close()

	applyFeatureOverrides(s, featuresFlag)

	ctx := context.Background()

	switch {
	case commandFlag != "":
		os.Exit(s.RunScript(ctx, commandFlag))
	case len(args) == 1:
		data, err := os.ReadFile(args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "fish: %v\n", err)
			os.Exit(ecGeneralFailure)
		}
		os.Exit(s.RunScript(ctx, string(data)))
	default:
		os.Exit(s.Run(ctx, os.Stdin))
	}
	return nil
}

// applyFeatureOverrides folds --features name=value,... into the shell's
// environment as plain global variables; internal/config already loaded
// the config-file feature set before New returned, this only layers
// command-line overrides on top.
func applyFeatureOverrides(s *shell.Shell, features []string) {
	for _, kv := range features {
		name, value, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		_ = s.RunScript(context.Background(), fmt.Sprintf("set -g __fish_feature_%s %s", name, value))
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fish:", err)
		os.Exit(ecMisuse)
	}
}

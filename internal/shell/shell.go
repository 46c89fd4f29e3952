// Package shell wires the process-wide singletons (environment, event
// bus, then the execution engine, which builds the topic monitor and
// installs signal handlers; the environment therefore exists before the
// topic monitor and signal handlers do) and
// runs the REPL: read a job list, parse it, hand each item to
// internal/execengine, print parse-error diagnostics with a caret, and
// loop. cmd/fish constructs exactly one Shell per process.
package shell

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fish-shell/fish-shell-sub008/internal/abbr"
	"github.com/fish-shell/fish-shell-sub008/internal/config"
	"github.com/fish-shell/fish-shell-sub008/internal/env"
	"github.com/fish-shell/fish-shell-sub008/internal/event"
	"github.com/fish-shell/fish-shell-sub008/internal/execengine"
	"github.com/fish-shell/fish-shell-sub008/internal/history"
	"github.com/fish-shell/fish-shell-sub008/internal/log"
	"github.com/fish-shell/fish-shell-sub008/internal/parser"
	"github.com/fish-shell/fish-shell-sub008/internal/uvar"
)

var logger = log.New(os.Stderr, "[shell] ")

// Process exit codes the CLI surface maps $status onto.
const (
	ExitSuccess         = 0
	ExitGeneralFailure  = 1
	ExitMisuse          = 2
	ExitCommandNotFound = 127
)

// Options configures a new Shell, mapping directly onto cmd/fish's flags.
type Options struct {
	Interactive bool
	Login       bool
	ConfigPath  string // "" selects config.DefaultPath()
	UvarPath    string // "" selects uvar.DefaultPath()
	HistoryPath string // "" selects history.DefaultPath()-equivalent
	Stdout      io.Writer
	Stderr      io.Writer
	Stdin       *os.File
}

// Shell is the process-wide singleton: one environment stack, one
// universal-variable store, one event bus, one execution engine, wired
// together in a fixed order.
type Shell struct {
	opts    Options
	cfg     config.Config
	uvars   *uvar.Store
	envs    *env.Stack
	bus     *event.Bus
	abbrevs *abbr.Store
	engine  *execengine.Engine
	hist    *history.Writer

	out *bufio.Writer
	err *bufio.Writer
}

// New constructs a Shell: load config, open the universal-variable
// store, build the environment stack over it, build the event bus, then
// the execution engine (which itself builds the topic monitor and
// installs signal handlers in that order).
func New(opts Options) (*Shell, error) {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.Stdin == nil {
		opts.Stdin = os.Stdin
	}

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		logger.Warnf("config load: %v", err)
	}

	uvars, err := uvar.New(uvar.Config{
		Path:         opts.UvarPath,
		PollInterval: cfg.UvarPollInterval,
	})
	if err != nil {
		return nil, err
	}

	envs := env.New(uvars)
	bus := event.New()
	envs.SetEventEmitter(bus)
	uvars.SetOnChange(func(name string, _ env.Value, _ bool) {
		bus.Emit(name)
	})

	abbrevs := abbr.New()

	jobControl := string(cfg.JobControlMode)
	engine, err := execengine.New(execengine.Config{
		Env:            envs,
		Bus:            bus,
		Abbrevs:        abbrevs,
		Interactive:    opts.Interactive,
		Login:          opts.Login,
		JobControlMode: jobControl,
	})
	if err != nil {
		return nil, err
	}

	histPath := opts.HistoryPath
	if histPath == "" {
		histPath = defaultHistoryPath()
	}

	s := &Shell{
		opts:    opts,
		cfg:     cfg,
		uvars:   uvars,
		envs:    envs,
		bus:     bus,
		abbrevs: abbrevs,
		engine:  engine,
		hist:    history.NewWriter(histPath),
		out:     bufio.NewWriter(opts.Stdout),
		err:     bufio.NewWriter(opts.Stderr),
	}
	s.seedEnv()
	return s, nil
}

func defaultHistoryPath() string {
	base := os.Getenv("XDG_DATA_HOME")
	if base == "" {
		if home, err := os.UserHomeDir(); err == nil {
			base = home + "/.local/share"
		}
	}
	if p := os.Getenv("FISH_HISTORY"); p != "" {
		return p
	}
	if base == "" {
		return "fish_history"
	}
	return base + "/fish/fish_history"
}

// seedEnv imports the inherited environment variables the shell consumes
// into the global scope (exported, since they came from the process's own
// envp) and sets SHLVL/PWD, which the shell maintains itself.
func (s *Shell) seedEnv() {
	for _, name := range []string{"HOME", "PATH", "CDPATH", "TERM", "LANG", "TMPDIR", "XDG_CONFIG_HOME", "XDG_DATA_HOME"} {
		if v, ok := os.LookupEnv(name); ok {
			pathvar := name == "PATH" || name == "CDPATH"
			values := []string{v}
			if pathvar {
				values = strings.Split(v, ":")
			}
			_ = s.envs.Set(name, values, env.SetOptions{Scope: env.ScopeGlobal, Export: true, Pathvar: pathvar})
		}
	}
	shlvl := 1
	if v, ok := os.LookupEnv("SHLVL"); ok {
		fmt.Sscanf(v, "%d", &shlvl)
		shlvl++
	}
	_ = s.envs.Set("SHLVL", []string{fmt.Sprint(shlvl)}, env.SetOptions{Scope: env.ScopeGlobal, Export: true})
	if pwd, err := os.Getwd(); err == nil {
		_ = s.envs.Set("PWD", []string{pwd}, env.SetOptions{Scope: env.ScopeGlobal, Export: true})
	}
	_ = s.envs.Set("status", []string{"0"}, env.SetOptions{Scope: env.ScopeGlobal})
}

// Close tears down the Shell's background resources (signal plumbing,
// topic monitor, universal-variable notifier) in reverse construction
// order.
func (s *Shell) Close() {
	s.engine.Close()
	if s.uvars != nil {
		if err := s.uvars.Close(); err != nil {
			logger.Warnf("uvar close: %v", err)
		}
	}
}

// RunScript parses and evaluates all of src as one job list (the `-c`
// flag and script-file modes) and returns the process exit code.
func (s *Shell) RunScript(ctx context.Context, src string) int {
	return s.evalSource(ctx, src)
}

// Run implements the interactive REPL: read one line at a time from r,
// evaluate it as a job list, print a prompt in between. It loops until r
// is exhausted or a `return`/`exit` unwinds to the top level.
func (s *Shell) Run(ctx context.Context, r io.Reader) int {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	status := 0
	for {
		if s.opts.Interactive {
			fmt.Fprint(s.out, "fish> ")
			s.out.Flush()
		}
		if !scanner.Scan() {
			break
		}
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		// Another shell instance may have rewritten the universal-variable
		// file since the last prompt.
		select {
		case <-s.uvars.Changed():
			if err := s.uvars.Sync(); err != nil {
				logger.Warnf("uvar sync: %v", err)
			}
		default:
		}
		status = s.evalSource(ctx, line)
		if s.hist != nil {
			_ = s.hist.Append(line, time.Now().Unix(), nil)
		}
		if s.engine.Interrupted() {
			fmt.Fprintln(s.err, "")
			s.engine.ClearInterrupt()
		}
		if code, exited := s.engine.ExitRequested(); exited {
			return code
		}
	}
	return status
}

// evalSource parses src, prints any parse errors with a caret
// diagnostic, and evaluates the resulting job list. A parse error skips
// evaluation entirely and returns exit code 2, misuse/parse error.
func (s *Shell) evalSource(ctx context.Context, src string) int {
	arena, root, errs := parser.Parse(src)
	for _, e := range errs {
		s.printParseError(src, e)
	}
	if len(errs) > 0 {
		return ExitMisuse
	}
	status := s.engine.RunJobList(ctx, arena, root)
	s.out.Flush()
	s.err.Flush()
	return status
}

// printParseError renders a caret diagnostic: the source line
// containing the error range, then a line of spaces and a `^` under the
// offending column.
func (s *Shell) printParseError(src string, e parser.ParseError) {
	fmt.Fprintf(s.err, "fish: %s\n", e.Msg)
	fmt.Fprintf(s.err, "%s\n", src)
	col := int(e.Range.Start)
	if col > len(src) {
		col = len(src)
	}
	fmt.Fprintf(s.err, "%s^\n", strings.Repeat(" ", col))
	s.err.Flush()
}

// Status returns the current value of $status as an int, 0 if unset or
// unparsable.
func (s *Shell) Status() int {
	v, ok := s.envs.Get("status", env.ScopeGlobal)
	if !ok || len(v.Values) == 0 {
		return 0
	}
	var n int
	fmt.Sscanf(v.Values[0], "%d", &n)
	return n
}

// Env exposes the shell's environment stack, e.g. for a caller wiring up
// `set -U` from a completion surface outside this package.
func (s *Shell) Env() *env.Stack { return s.envs }

// Abbreviations exposes the shell's abbreviation store.
func (s *Shell) Abbreviations() *abbr.Store { return s.abbrevs }

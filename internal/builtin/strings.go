package builtin

import (
	"fmt"
	"strings"

	"github.com/fish-shell/fish-shell-sub008/internal/validator"
)

// builtinEcho writes its arguments separated by spaces. -n suppresses the
// trailing newline, -s the separating spaces.
func builtinEcho(h Host, io *IoStreams, argv []string) int {
	newline, space := true, true
	for len(argv) > 0 {
		switch argv[0] {
		case "-n":
			newline = false
		case "-s":
			space = false
		case "-ns", "-sn":
			newline, space = false, false
		default:
			goto body
		}
		argv = argv[1:]
	}
body:
	sep := ""
	if space {
		sep = " "
	}
	fmt.Fprint(io.Out, strings.Join(argv, sep))
	if newline {
		fmt.Fprintln(io.Out)
	}
	return 0
}

// builtinString implements the core text subcommands: upper, lower,
// length, join, split, trim. Each reads its operands from argv; reading
// piped stdin lines is accepted for upper/lower/length/trim when no
// operands were given.
func builtinString(h Host, io *IoStreams, argv []string) int {
	v := validator.New()
	v.Assert(len(argv) >= 1, "string requires a subcommand")
	if v.Err() != nil {
		fmt.Fprintln(io.Err, v.Err())
		return invalidArgs
	}
	sub, rest := argv[0], argv[1:]

	switch sub {
	case "upper", "lower", "length", "trim":
		inputs := rest
		if len(inputs) == 0 {
			inputs = readAllLines(io.In)
		}
		return stringMap(io, sub, inputs)
	case "join":
		v.Assert(len(rest) >= 1, "string join requires a separator")
		if v.Err() != nil {
			fmt.Fprintln(io.Err, v.Err())
			return invalidArgs
		}
		fmt.Fprintln(io.Out, strings.Join(rest[1:], rest[0]))
		return 0
	case "split":
		v.Assert(len(rest) >= 2, "string split requires a separator and a string")
		if v.Err() != nil {
			fmt.Fprintln(io.Err, v.Err())
			return invalidArgs
		}
		parts := strings.Split(rest[1], rest[0])
		for _, p := range parts {
			fmt.Fprintln(io.Out, p)
		}
		if len(parts) < 2 {
			return 1
		}
		return 0
	default:
		fmt.Fprintf(io.Err, "string: %s: unknown subcommand\n", sub)
		return invalidArgs
	}
}

func stringMap(io *IoStreams, sub string, inputs []string) int {
	for _, in := range inputs {
		switch sub {
		case "upper":
			fmt.Fprintln(io.Out, strings.ToUpper(in))
		case "lower":
			fmt.Fprintln(io.Out, strings.ToLower(in))
		case "length":
			fmt.Fprintln(io.Out, len([]rune(in)))
		case "trim":
			fmt.Fprintln(io.Out, strings.TrimSpace(in))
		}
	}
	if len(inputs) == 0 {
		return 1
	}
	return 0
}

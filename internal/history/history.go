// Package history implements the persisted `fish_history` store: a
// plain-text, YAML-like append-only log where each record is
//
//	- cmd: <command string>
//	  when: <unix timestamp>
//	  paths:
//	    - <required path>
//
// Append opens the file in append mode for every call rather than holding
// it open, matching fish's own "many short-lived shells append to one
// file" usage pattern; a Reader parses the whole file and searches it
// newest-first for interactive history search (the line-editor UI itself stays out of
// scope, but the storage format and the append/scan API
// used to back it is not).
package history

import (
	"bufio"
	"bytes"
	"os"
	"strconv"
	"strings"

	pkgerrors "github.com/pkg/errors"
)

// Entry is one decoded history record.
type Entry struct {
	Cmd   string
	When  int64
	Paths []string
}

// Writer appends entries to one history file.
type Writer struct {
	path string
}

// NewWriter returns a Writer targeting path; the file is created on first
// Append if it doesn't already exist.
func NewWriter(path string) *Writer {
	return &Writer{path: path}
}

// Append writes one record. In cmd, backslashes are doubled and newlines
// are written as `\n`, so a multi-line command round-trips through the
// YAML-like format.
func (w *Writer) Append(cmd string, when int64, paths []string) error {
	f, err := os.OpenFile(w.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return pkgerrors.Wrapf(err, "history: open %s", w.path)
	}
	defer f.Close()

	var buf bytes.Buffer
	buf.WriteString("- cmd: ")
	buf.WriteString(escapeCmd(cmd))
	buf.WriteByte('\n')
	buf.WriteString("  when: ")
	buf.WriteString(strconv.FormatInt(when, 10))
	buf.WriteByte('\n')
	if len(paths) > 0 {
		buf.WriteString("  paths:\n")
		for _, p := range paths {
			buf.WriteString("    - ")
			buf.WriteString(p)
			buf.WriteByte('\n')
		}
	}

	if _, err := f.Write(buf.Bytes()); err != nil {
		return pkgerrors.Wrapf(err, "history: write %s", w.path)
	}
	return nil
}

func escapeCmd(cmd string) string {
	cmd = strings.ReplaceAll(cmd, `\`, `\\`)
	cmd = strings.ReplaceAll(cmd, "\n", `\n`)
	return cmd
}

func unescapeCmd(cmd string) string {
	var b strings.Builder
	for i := 0; i < len(cmd); i++ {
		if cmd[i] != '\\' || i+1 >= len(cmd) {
			b.WriteByte(cmd[i])
			continue
		}
		switch cmd[i+1] {
		case 'n':
			b.WriteByte('\n')
			i++
		case '\\':
			b.WriteByte('\\')
			i++
		default:
			b.WriteByte(cmd[i])
		}
	}
	return b.String()
}

// Reader scans a history file for interactive search.
type Reader struct {
	path string
}

// NewReader returns a Reader over path.
func NewReader(path string) *Reader {
	return &Reader{path: path}
}

// All parses every record in file order (oldest first).
func (r *Reader) All() ([]Entry, error) {
	f, err := os.Open(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, pkgerrors.Wrapf(err, "history: open %s", r.path)
	}
	defer f.Close()
	return parse(f)
}

// ReverseSearch returns every entry whose Cmd contains substr, most
// recent first.
func (r *Reader) ReverseSearch(substr string) ([]Entry, error) {
	all, err := r.All()
	if err != nil {
		return nil, err
	}
	var out []Entry
	for i := len(all) - 1; i >= 0; i-- {
		if strings.Contains(all[i].Cmd, substr) {
			out = append(out, all[i])
		}
	}
	return out, nil
}

func parse(f *os.File) ([]Entry, error) {
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	var out []Entry
	var cur *Entry
	inPaths := false

	flush := func() {
		if cur != nil {
			out = append(out, *cur)
			cur = nil
		}
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "- cmd: "):
			flush()
			cur = &Entry{Cmd: unescapeCmd(strings.TrimPrefix(line, "- cmd: "))}
			inPaths = false
		case strings.HasPrefix(line, "  when: "):
			if cur == nil {
				continue
			}
			when, err := strconv.ParseInt(strings.TrimPrefix(line, "  when: "), 10, 64)
			if err == nil {
				cur.When = when
			}
			inPaths = false
		case line == "  paths:":
			inPaths = true
		case inPaths && strings.HasPrefix(line, "    - "):
			if cur != nil {
				cur.Paths = append(cur.Paths, strings.TrimPrefix(line, "    - "))
			}
		default:
			inPaths = false
		}
	}
	flush()

	if err := scanner.Err(); err != nil {
		return nil, pkgerrors.Wrap(err, "history: scan")
	}
	return out, nil
}

// Package uvar implements universal variables: one text file shared by
// every shell instance for one user, synced via advisory flock plus
// atomic tempfile-rename, with cross-process change notification.
package uvar

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/fish-shell/fish-shell-sub008/internal/env"
	"github.com/fish-shell/fish-shell-sub008/internal/log"
)

var logger = log.New(os.Stderr, "[uvar] ")

// CurrentVersion is the format version this package writes.
const CurrentVersion = "3.0"

// MaxFileSize bounds how much of the universal-variable file sync() will
// read.
const MaxFileSize = 16 << 20

const header = "# This file contains fish universal variable definitions.\n"

// Callback is invoked once per name whose value changed during a sync:
// either a new value ("set") or a deletion (ok == false).
type Callback func(name string, v env.Value, ok bool)

// identity is the (device, inode, mtime, size) tuple used to decide
// whether a re-read is necessary.
type identity struct {
	dev, ino   uint64
	mtimeNanos int64
	size       int64
}

func statIdentity(fi os.FileInfo) identity {
	st, ok := fi.Sys().(*unix.Stat_t)
	if !ok {
		return identity{mtimeNanos: fi.ModTime().UnixNano(), size: fi.Size()}
	}
	return identity{
		dev:        uint64(st.Dev),
		ino:        st.Ino,
		mtimeNanos: fi.ModTime().UnixNano(),
		size:       fi.Size(),
	}
}

// Notifier is the cross-process change-notification backend selected per
// platform: Linux/Android use inotify, macOS and the BSDs a kqueue-backed
// directory watch (macOS's notify_register_file_descriptor is not used),
// and everywhere else a polling fallback. Changed delivers a value every time the backend believes the
// file may have changed; the receiver must still verify via Sync's
// identity check.
type Notifier interface {
	Changed() <-chan struct{}
	Close() error
}

// Config configures a Store.
type Config struct {
	Path         string // defaults to $XDG_CONFIG_HOME/fish/fish_variables
	PollInterval time.Duration // clamped to [50ms, 2s]
	Notifier     Notifier      // nil selects the platform default (see notifier_*.go)
}

func (c *Config) setDefaults() {
	if c.Path == "" {
		c.Path = DefaultPath()
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 200 * time.Millisecond
	}
	if c.PollInterval < 50*time.Millisecond {
		c.PollInterval = 50 * time.Millisecond
	}
	if c.PollInterval > 2*time.Second {
		c.PollInterval = 2 * time.Second
	}
}

// DefaultPath returns $XDG_CONFIG_HOME/fish/fish_variables, falling back to
// $HOME/.config/fish/fish_variables.
func DefaultPath() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		base = filepath.Join(os.Getenv("HOME"), ".config")
	}
	return filepath.Join(base, "fish", "fish_variables")
}

// Store is the in-memory universal-variable map plus the set of locally
// modified names not yet synced to disk.
type Store struct {
	mu       sync.Mutex
	path     string
	vars     map[string]env.Value
	dirty    map[string]bool // locally modified, need to be written out
	// extraFlags holds unrecognized SETUVAR flags per name, read from the
	// file and forwarded verbatim when rewriting so a newer shell's flags
	// survive a round trip through this one.
	extraFlags map[string][]string
	id         identity
	haveID     bool
	unknownVersion bool // file format newer than CurrentVersion: read-only
	exportGen  uint64

	notifier Notifier
	onChange Callback
}

// New creates a Store and performs an initial sync.
func New(cfg Config) (*Store, error) {
	cfg.setDefaults()
	s := &Store{
		path:       cfg.Path,
		vars:       make(map[string]env.Value),
		dirty:      make(map[string]bool),
		extraFlags: make(map[string][]string),
	}
	if cfg.Notifier != nil {
		s.notifier = cfg.Notifier
	} else {
		n, err := newPlatformNotifier(cfg.Path, cfg.PollInterval)
		if err != nil {
			logger.Warnf("notifier unavailable, falling back to polling: %v", err)
			n = newPollNotifier(cfg.Path, cfg.PollInterval)
		}
		s.notifier = n
	}
	if err := s.Sync(); err != nil {
		logger.Warnf("initial sync: %v", err)
	}
	return s, nil
}

// SetOnChange installs the callback fired per-name on the next Sync that
// observes a change. internal/shell wires this to the event bus, emitting
// the changed variable's name.
func (s *Store) SetOnChange(cb Callback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = cb
}

// Changed exposes the notifier's channel so internal/shell can add it to
// the main poll set; a ready channel triggers Sync.
func (s *Store) Changed() <-chan struct{} {
	if s.notifier == nil {
		return nil
	}
	return s.notifier.Changed()
}

// Close releases the notifier.
func (s *Store) Close() error {
	if s.notifier == nil {
		return nil
	}
	return s.notifier.Close()
}

// Get implements internal/env.UniversalStore.
func (s *Store) Get(name string) (env.Value, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vars[name]
	return v, ok
}

// Names implements internal/env.UniversalStore.
func (s *Store) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.vars))
	for n := range s.vars {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Set implements internal/env.UniversalStore: stores v in memory, marks
// name dirty, and immediately attempts to persist it. ExportGeneration
// is bumped for any change touching an exported variable.
func (s *Store) Set(name string, v env.Value) error {
	s.mu.Lock()
	v.FromUniversal = true
	prev, existed := s.vars[name]
	s.vars[name] = v
	s.dirty[name] = true
	delete(s.extraFlags, name)
	if v.Exported || (existed && prev.Exported) {
		s.exportGen++
	}
	s.mu.Unlock()

	return s.flush()
}

// Remove implements internal/env.UniversalStore.
func (s *Store) Remove(name string) error {
	s.mu.Lock()
	prev, existed := s.vars[name]
	delete(s.vars, name)
	s.dirty[name] = true
	delete(s.extraFlags, name)
	if existed && prev.Exported {
		s.exportGen++
	}
	s.mu.Unlock()

	return s.flush()
}

// ExportGeneration returns the uvar-local export-touching counter; callers
// fold this into internal/env.Stack's own counter.
func (s *Store) ExportGeneration() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exportGen
}

// Sync runs one synchronization pass: stat-check, read+diff, merge local
// modifications on top, and (if the format version is known) atomically
// rewrite.
func (s *Store) Sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.syncLocked()
}

func (s *Store) syncLocked() error {
	unlock, err := s.lockLocked()
	if err != nil {
		return pkgerrors.Wrap(err, "uvar: sync: lock")
	}
	defer unlock()

	fi, statErr := os.Stat(s.path)
	noLocalMods := len(s.dirty) == 0

	if statErr == nil && noLocalMods && s.haveID {
		if statIdentity(fi) == s.id {
			return nil // step 1: unchanged, no local mods, nothing to do
		}
	}

	var onDisk map[string]env.Value
	if statErr == nil {
		var extras map[string][]string
		onDisk, extras, s.unknownVersion, err = s.readFileLocked()
		if err != nil {
			return pkgerrors.Wrap(err, "uvar: sync: read")
		}
		for name, flags := range extras {
			if !s.dirty[name] {
				s.extraFlags[name] = flags
			}
		}
		s.id = statIdentity(fi)
		s.haveID = true
	} else if !os.IsNotExist(statErr) {
		return pkgerrors.Wrap(statErr, "uvar: sync: stat")
	}

	s.diffAndNotifyLocked(onDisk)

	// step 3: merge local modifications on top of what we just read.
	if onDisk == nil {
		onDisk = make(map[string]env.Value)
	}
	for name := range s.dirty {
		if v, stillPresent := s.vars[name]; stillPresent {
			onDisk[name] = v
		} else {
			delete(onDisk, name)
		}
	}
	s.vars = onDisk

	if s.unknownVersion {
		// step 4, read-only branch: never rewrite a file from a newer shell.
		s.dirty = make(map[string]bool)
		return nil
	}

	if err := s.writeFileLocked(); err != nil {
		return pkgerrors.Wrap(err, "uvar: sync: write")
	}
	s.dirty = make(map[string]bool)

	if fi, err := os.Stat(s.path); err == nil {
		s.id = statIdentity(fi)
		s.haveID = true
	}
	return nil
}

// diffAndNotifyLocked compares onDisk against s.vars and fires s.onChange
// once per name that changed.
func (s *Store) diffAndNotifyLocked(onDisk map[string]env.Value) {
	if s.onChange == nil {
		return
	}
	seen := make(map[string]bool, len(onDisk)+len(s.vars))
	for name, v := range onDisk {
		seen[name] = true
		if old, ok := s.vars[name]; !ok || !valuesEqual(old, v) {
			s.onChange(name, v, true)
		}
	}
	for name := range s.vars {
		if seen[name] {
			continue
		}
		if s.dirty[name] {
			continue // local-only addition, not a removal from disk
		}
		s.onChange(name, env.Value{}, false)
	}
}

func valuesEqual(a, b env.Value) bool {
	if a.Exported != b.Exported || a.Pathvar != b.Pathvar || len(a.Values) != len(b.Values) {
		return false
	}
	for i := range a.Values {
		if a.Values[i] != b.Values[i] {
			return false
		}
	}
	return true
}

// flush performs an out-of-band sync immediately after a local Set/Remove,
// so the change is durable without waiting for the notifier to fire.
func (s *Store) flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.syncLocked()
}

func (s *Store) lockLocked() (func(), error) {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return nil, err
	}
	lockPath := s.path + ".lock"
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		f.Close()
		return nil, err
	}
	return func() {
		unix.Flock(int(f.Fd()), unix.LOCK_UN)
		f.Close()
	}, nil
}

func (s *Store) readFileLocked() (map[string]env.Value, map[string][]string, bool, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]env.Value), nil, false, nil
		}
		return nil, nil, false, err
	}
	defer f.Close()

	limited := io.LimitReader(f, MaxFileSize)
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, nil, false, err
	}
	// newline-aligned truncation: drop a trailing partial line if we hit
	// the size cap exactly mid-record.
	if len(data) == MaxFileSize {
		if idx := strings.LastIndexByte(string(data), '\n'); idx >= 0 {
			data = data[:idx+1]
		}
	}

	return parse(string(data))
}

// parse reads the SETUVAR record grammar.
func parse(data string) (map[string]env.Value, map[string][]string, bool, error) {
	vars := make(map[string]env.Value)
	extras := make(map[string][]string)
	unknownVersion := false

	sc := bufio.NewScanner(strings.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), MaxFileSize)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#") {
			if v, ok := parseVersionComment(line); ok {
				major := v
				if idx := strings.IndexByte(major, '.'); idx >= 0 {
					major = major[:idx]
				}
				if major != "3" {
					unknownVersion = true
				}
			}
			continue
		}
		if !strings.HasPrefix(line, "SETUVAR") {
			continue
		}
		name, v, extra, err := parseSetuvar(line)
		if err != nil {
			logger.Warnf("skipping malformed record: %v", err)
			continue
		}
		vars[name] = v
		if len(extra) > 0 {
			extras[name] = extra
		}
	}
	if err := sc.Err(); err != nil {
		return nil, nil, false, err
	}
	return vars, extras, unknownVersion, nil
}

func parseVersionComment(line string) (string, bool) {
	const prefix = "# VERSION:"
	if !strings.HasPrefix(line, prefix) {
		return "", false
	}
	return strings.TrimSpace(line[len(prefix):]), true
}

// parseSetuvar splits one record into flags and the NAME:VALUE payload.
// The payload is located by byte position and taken verbatim to end of
// line: the escape grammar leaves printable whitespace literal, so
// re-splitting the payload on whitespace would corrupt any value
// containing a doubled or trailing space. Flags this version doesn't
// recognize are collected and forwarded when the file is rewritten.
func parseSetuvar(line string) (string, env.Value, []string, error) {
	rest := strings.TrimPrefix(line, "SETUVAR")
	var v env.Value
	var extra []string

	i := 0
	for {
		for i < len(rest) && (rest[i] == ' ' || rest[i] == '\t') {
			i++
		}
		if i >= len(rest) {
			return "", env.Value{}, nil, pkgerrors.Errorf("uvar: malformed SETUVAR line: %q", line)
		}
		if !strings.HasPrefix(rest[i:], "--") {
			break
		}
		j := i
		for j < len(rest) && rest[j] != ' ' && rest[j] != '\t' {
			j++
		}
		switch flag := rest[i:j]; flag {
		case "--export":
			v.Exported = true
		case "--path":
			v.Pathvar = true
		default:
			extra = append(extra, flag)
		}
		i = j
	}

	payload := rest[i:]
	idx := strings.IndexByte(payload, ':')
	if idx < 0 {
		return "", env.Value{}, nil, pkgerrors.Errorf("uvar: missing ':' in SETUVAR line: %q", line)
	}
	name := payload[:idx]
	v.Values = unescapeValue(payload[idx+1:])
	return name, v, extra, nil
}

func (s *Store) writeFileLocked() error {
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".fish_variables.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once renamed

	w := bufio.NewWriter(tmp)
	w.WriteString(header)
	w.WriteString(fmt.Sprintf("# VERSION: %s\n", CurrentVersion))

	names := make([]string, 0, len(s.vars))
	for n := range s.vars {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		v := s.vars[n]
		var flags string
		if v.Exported {
			flags += "--export "
		}
		if v.Pathvar {
			flags += "--path "
		}
		for _, f := range s.extraFlags[n] {
			flags += f + " "
		}
		fmt.Fprintf(w, "SETUVAR %s%s:%s\n", flags, n, escapeValue(v.Values))
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, s.path)
}

// escapeValue joins multiple values with \x1e (RS) and escapes
// non-printable bytes. An empty list is the single byte \x1d (GS).
func escapeValue(values []string) string {
	if len(values) == 0 {
		return "\x1d"
	}
	joined := strings.Join(values, "\x1e")
	var b strings.Builder
	for _, r := range joined {
		switch {
		case r == '\x1e':
			b.WriteRune(r) // separator, not escaped
		case r == '\\':
			b.WriteString(`\\`)
		case r == '\n':
			b.WriteString(`\n`)
		case r < 0x20 || r == 0x7f:
			fmt.Fprintf(&b, `\x%02x`, r)
		case r > 0xff && r <= 0xffff:
			fmt.Fprintf(&b, `\u%04x`, r)
		case r > 0xffff:
			fmt.Fprintf(&b, `\U%08x`, r)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func unescapeValue(s string) []string {
	if s == "\x1d" {
		return nil
	}
	var b strings.Builder
	var parts []string
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '\x1e' {
			parts = append(parts, b.String())
			b.Reset()
			continue
		}
		if c != '\\' || i+1 >= len(s) {
			b.WriteByte(c)
			continue
		}
		switch s[i+1] {
		case '\\':
			b.WriteByte('\\')
			i++
		case 'n':
			b.WriteByte('\n')
			i++
		case 'x':
			if n, adv, ok := parseHexEscape(s[i+2:], 2); ok {
				b.WriteByte(byte(n))
				i += 1 + adv
			} else {
				b.WriteByte(c)
			}
		case 'u':
			if n, adv, ok := parseHexEscape(s[i+2:], 4); ok {
				b.WriteRune(rune(n))
				i += 1 + adv
			} else {
				b.WriteByte(c)
			}
		case 'U':
			if n, adv, ok := parseHexEscape(s[i+2:], 8); ok {
				b.WriteRune(rune(n))
				i += 1 + adv
			} else {
				b.WriteByte(c)
			}
		default:
			b.WriteByte(c)
		}
	}
	parts = append(parts, b.String())
	return parts
}

func parseHexEscape(s string, digits int) (int64, int, bool) {
	if len(s) < digits {
		return 0, 0, false
	}
	n, err := strconv.ParseInt(s[:digits], 16, 64)
	if err != nil {
		return 0, 0, false
	}
	return n, digits, true
}

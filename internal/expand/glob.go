package expand

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// expandGlob runs the glob phase over a dequoted literal
// pattern: `*` (no leading dot), `?`, `**` (recursive descent), `[...]`
// classes, and a trailing `/` that restricts matches to directories.
func expandGlob(pattern string) ([]string, error) {
	dirOnly := strings.HasSuffix(pattern, "/")
	pattern = strings.TrimSuffix(pattern, "/")

	segments := strings.Split(pattern, "/")
	base := "."
	if strings.HasPrefix(pattern, "/") {
		base = "/"
		segments = segments[1:]
	}

	matches, err := globSegments(base, segments)
	if err != nil {
		return nil, err
	}

	if dirOnly {
		var filtered []string
		for _, m := range matches {
			if info, err := os.Stat(m); err == nil && info.IsDir() {
				filtered = append(filtered, m+"/")
			}
		}
		matches = filtered
	}

	sort.Strings(matches)
	return matches, nil
}

func globSegments(dir string, segments []string) ([]string, error) {
	if len(segments) == 0 {
		return []string{dir}, nil
	}
	seg := segments[0]
	rest := segments[1:]

	if seg == "**" {
		var out []string
		dirs, err := collectDirsRecursive(dir)
		if err != nil {
			return nil, err
		}
		for _, d := range dirs {
			sub, err := globSegments(d, rest)
			if err != nil {
				return nil, err
			}
			out = append(out, sub...)
		}
		return out, nil
	}

	if !hasGlobMeta(seg) {
		joined := filepath.Join(dir, seg)
		if len(rest) == 0 {
			if _, err := os.Lstat(joined); err != nil {
				return nil, nil
			}
			return []string{joined}, nil
		}
		if info, err := os.Stat(joined); err != nil || !info.IsDir() {
			return nil, nil
		}
		return globSegments(joined, rest)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil
	}

	var out []string
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, ".") && !strings.HasPrefix(seg, ".") {
			continue
		}
		if !matchGlobSegment(seg, name) {
			continue
		}
		joined := filepath.Join(dir, name)
		if len(rest) == 0 {
			out = append(out, joined)
			continue
		}
		if entry.IsDir() {
			sub, err := globSegments(joined, rest)
			if err != nil {
				return nil, err
			}
			out = append(out, sub...)
		}
	}
	return out, nil
}

func collectDirsRecursive(root string) ([]string, error) {
	dirs := []string{root}
	entries, err := os.ReadDir(root)
	if err != nil {
		return dirs, nil
	}
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			sub, err := collectDirsRecursive(filepath.Join(root, e.Name()))
			if err != nil {
				return nil, err
			}
			dirs = append(dirs, sub...)
		}
	}
	return dirs, nil
}

func hasGlobMeta(s string) bool {
	return strings.ContainsAny(s, "*?[")
}

// matchGlobSegment matches one path segment against a pattern containing
// `*`, `?`, and `[...]` classes. Hidden names are not filtered here: the
// directory walk skips leading-dot entries unless the segment itself
// starts with a dot.
func matchGlobSegment(pattern, name string) bool {
	return globMatch(pattern, name)
}

func globMatch(pattern, name string) bool {
	return globMatchAt(pattern, name, 0, 0)
}

func globMatchAt(pattern, name string, pi, ni int) bool {
	for pi < len(pattern) {
		switch pattern[pi] {
		case '*':
			// collapse consecutive '*'
			for pi < len(pattern) && pattern[pi] == '*' {
				pi++
			}
			if pi == len(pattern) {
				return true
			}
			for k := ni; k <= len(name); k++ {
				if globMatchAt(pattern, name, pi, k) {
					return true
				}
			}
			return false
		case '?':
			if ni >= len(name) {
				return false
			}
			pi++
			ni++
		case '[':
			if ni >= len(name) {
				return false
			}
			end := strings.IndexByte(pattern[pi:], ']')
			if end < 0 {
				// unterminated class: treat '[' literally
				if name[ni] != '[' {
					return false
				}
				pi++
				ni++
				continue
			}
			class := pattern[pi+1 : pi+end]
			if !matchClass(class, name[ni]) {
				return false
			}
			pi += end + 1
			ni++
		default:
			if ni >= len(name) || pattern[pi] != name[ni] {
				return false
			}
			pi++
			ni++
		}
	}
	return ni == len(name)
}

func matchClass(class string, c byte) bool {
	negate := false
	if len(class) > 0 && (class[0] == '!' || class[0] == '^') {
		negate = true
		class = class[1:]
	}
	matched := false
	for i := 0; i < len(class); i++ {
		if i+2 < len(class) && class[i+1] == '-' {
			if class[i] <= c && c <= class[i+2] {
				matched = true
			}
			i += 2
			continue
		}
		if class[i] == c {
			matched = true
		}
	}
	return matched != negate
}

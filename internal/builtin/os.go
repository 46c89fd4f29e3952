package builtin

import (
	"bufio"
	"os"
)

// osChdir, osGetwd, readFile, readLine are thin stdlib wrappers kept as
// named indirections so built-in implementations read as plain calls
// rather than bare `os.` qualifiers scattered through builtins.go.

func osChdir(dir string) error {
	return os.Chdir(dir)
}

func osGetwd() (string, error) {
	return os.Getwd()
}

func readFile(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func readAllLines(f *os.File) []string {
	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	return lines
}

func readLine(f *os.File) (string, error) {
	r := bufio.NewReader(f)
	line, err := r.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	if len(line) > 0 && line[len(line)-1] == '\n' {
		line = line[:len(line)-1]
	}
	return line, nil
}

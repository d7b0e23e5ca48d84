// Command merge-coverage combines several Go coverage profiles into one,
// writing the result to stdout. CI produces a profile per package group
// (unit, postgres integration, docker) and the merged file feeds the
// coverage report.
//
// Usage: merge-coverage unit.out integration.out [...]
package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

func main() {
	if len(os.Args) < 3 {
		fmt.Fprintf(os.Stderr, "usage: %s profile1.out profile2.out [...]\n", os.Args[0])
		os.Exit(1)
	}

	if err := merge(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "merge-coverage: %v\n", err)
		os.Exit(1)
	}
}

// merge writes the mode line from the first profile, then every non-mode
// line from each profile in argument order. Profiles must share a mode.
func merge(w io.Writer, paths []string) error {
	mode, err := readMode(paths[0])
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintln(w, mode); err != nil {
		return err
	}

	for _, path := range paths {
		if err := appendProfile(w, path, mode); err != nil {
			return err
		}
	}
	return nil
}

func readMode(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		return "", fmt.Errorf("%s: missing mode line", path)
	}
	mode := scanner.Text()
	if !strings.HasPrefix(mode, "mode:") {
		return "", fmt.Errorf("%s: first line %q is not a mode line", path, mode)
	}
	return mode, nil
}

func appendProfile(w io.Writer, path, mode string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "mode:") {
			if line != mode {
				return fmt.Errorf("%s: mode %q does not match %q", path, line, mode)
			}
			continue
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return scanner.Err()
}

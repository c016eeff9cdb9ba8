// Package snapshot summarizes a project's directory layout for prompt context.
package snapshot

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var skipped = map[string]bool{
	"node_modules": true,
	"vendor":       true,
	"dist":         true,
	"storage":      true,
	"build":        true,
	"public":       true,
	"cache":        true,
	"logs":         true,
}

// Summarize renders the tree under root as an indented list. Directories show
// their visible entry count; plain files are listed at the top level only.
func Summarize(root string) (string, error) {
	var lines []string
	total, err := walk(root, 0, &lines)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(strings.Join(lines, "\n"))
	fmt.Fprintf(&b, "\n\n## Total files: %d\n", total)
	fmt.Fprintf(&b, "\n## Estimated project type: %s\n", projectType(root))
	return b.String(), nil
}

func walk(dir string, depth int, lines *[]string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("read dir %s: %w", dir, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	indent := strings.Repeat("  ", depth)
	total := 0
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, ".") || skipped[name] {
			continue
		}
		if !e.IsDir() {
			if depth == 0 {
				*lines = append(*lines, indent+"- "+name)
				total++
			}
			continue
		}

		path := filepath.Join(dir, name)
		count, err := visibleCount(path)
		if err != nil {
			return 0, err
		}
		total += count
		*lines = append(*lines, fmt.Sprintf("%s- %s/ (%d %s)", indent, name, count, plural(count)))
		sub, err := walk(path, depth+1, lines)
		if err != nil {
			return 0, err
		}
		total += sub
	}
	return total, nil
}

func visibleCount(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("read dir %s: %w", dir, err)
	}
	n := 0
	for _, e := range entries {
		if !strings.HasPrefix(e.Name(), ".") {
			n++
		}
	}
	return n, nil
}

func plural(n int) string {
	if n == 1 {
		return "file"
	}
	return "files"
}

func projectType(root string) string {
	hasComposer := exists(filepath.Join(root, "composer.json"))
	switch {
	case hasComposer && exists(filepath.Join(root, "artisan")):
		return "PHP / Laravel"
	case hasComposer:
		return "PHP"
	default:
		return "Unknown"
	}
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

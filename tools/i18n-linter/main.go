// Copyright (c) 2026 Keymaster Team
// iscsictl - iSCSI lab provisioning over SSH
// This source code is licensed under the MIT license found in the LICENSE file.

// i18n-linter checks that every i18n.T() key used in the Go sources exists
// in every locale file, and reports locale keys nothing uses.
package main

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	localesDir  = "internal/i18n/locales"
	projectRoot = "."
)

var keyRe = regexp.MustCompile(`i18n\.T\("([^"]+)"`)

func main() {
	problems, err := lint(projectRoot, filepath.Join(projectRoot, localesDir))
	if err != nil {
		fmt.Fprintf(os.Stderr, "i18n-linter: %v\n", err)
		os.Exit(2)
	}
	for _, p := range problems {
		fmt.Println(p)
	}
	if len(problems) > 0 {
		os.Exit(1)
	}
	fmt.Println("i18n-linter: all keys present")
}

// lint returns one line per missing or orphaned key, sorted.
func lint(root, locales string) ([]string, error) {
	used, err := findUsedKeys(root)
	if err != nil {
		return nil, err
	}
	files, err := filepath.Glob(filepath.Join(locales, "*.yaml"))
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no locale files in %s", locales)
	}

	var problems []string
	for _, f := range files {
		keys, err := loadKeys(f)
		if err != nil {
			return nil, err
		}
		name := filepath.Base(f)
		for k := range used {
			if !keys[k] {
				problems = append(problems, fmt.Sprintf("missing %s in %s (used in %s)", k, name, used[k]))
			}
		}
		for k := range keys {
			if _, ok := used[k]; !ok {
				problems = append(problems, fmt.Sprintf("orphaned %s in %s", k, name))
			}
		}
	}
	sort.Strings(problems)
	return problems, nil
}

// findUsedKeys maps each key passed to i18n.T to the first file using it.
// Test files and the _examples tree are skipped.
func findUsedKeys(root string) (map[string]string, error) {
	used := map[string]string{}
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && (strings.HasPrefix(d.Name(), "_") || strings.HasPrefix(d.Name(), ".")) {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(path, ".go") || strings.HasSuffix(path, "_test.go") {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		for _, m := range keyRe.FindAllStringSubmatch(string(data), -1) {
			if _, seen := used[m[1]]; !seen {
				used[m[1]] = path
			}
		}
		return nil
	})
	return used, err
}

func loadKeys(path string) (map[string]bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	keys := make(map[string]bool, len(raw))
	for k := range raw {
		keys[k] = true
	}
	return keys, nil
}

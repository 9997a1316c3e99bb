//go:build mage

// Copyright (c) 2026 Petar Djukic. All rights reserved.
// SPDX-License-Identifier: MIT

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// packageStats is the line count of one Go package directory.
type packageStats struct {
	Package string `json:"package"`
	Prod    int    `json:"prod"`
	Test    int    `json:"test"`
}

// Stats prints one JSON record per package with its production and test
// line counts, then a totals record that includes the markdown word count.
func Stats() error {
	byDir := map[string]*packageStats{}
	err := filepath.WalkDir(".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			name := d.Name()
			if path != "." && (strings.HasPrefix(name, "_") || strings.HasPrefix(name, ".") || name == "magefiles" || path == binaryDir) {
				return filepath.SkipDir
			}
			return nil
		}
		if filepath.Ext(path) != ".go" {
			return nil
		}
		n, err := lineCount(path)
		if err != nil {
			return err
		}
		dir := filepath.Dir(path)
		ps, ok := byDir[dir]
		if !ok {
			ps = &packageStats{Package: dir}
			byDir[dir] = ps
		}
		if strings.HasSuffix(path, "_test.go") {
			ps.Test += n
		} else {
			ps.Prod += n
		}
		return nil
	})
	if err != nil {
		return err
	}

	dirs := make([]string, 0, len(byDir))
	for dir := range byDir {
		dirs = append(dirs, dir)
	}
	sort.Strings(dirs)

	enc := json.NewEncoder(os.Stdout)
	var prod, test int
	for _, dir := range dirs {
		ps := byDir[dir]
		prod += ps.Prod
		test += ps.Test
		if err := enc.Encode(ps); err != nil {
			return err
		}
	}

	words, err := markdownWords()
	if err != nil {
		return err
	}
	return enc.Encode(map[string]int{
		"go_loc_prod": prod,
		"go_loc_test": test,
		"go_loc":      prod + test,
		"doc_wc":      words,
	})
}

func lineCount(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("reading %s: %w", path, err)
	}
	n := bytes.Count(data, []byte{'\n'})
	if len(data) > 0 && data[len(data)-1] != '\n' {
		n++
	}
	return n, nil
}

// markdownWords counts whitespace-separated words in the top-level markdown
// files.
func markdownWords() (int, error) {
	matches, err := filepath.Glob("*.md")
	if err != nil {
		return 0, err
	}
	total := 0
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return 0, fmt.Errorf("reading %s: %w", path, err)
		}
		total += len(strings.Fields(string(data)))
	}
	return total, nil
}

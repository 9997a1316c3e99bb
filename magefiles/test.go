//go:build mage

// Copyright (c) 2026 Petar Djukic. All rights reserved.
// SPDX-License-Identifier: MIT

package main

import (
	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

// Test groups test targets (all, unit, race).
type Test mg.Namespace

// All runs unit tests and then the race-detector run.
func (Test) All() {
	mg.SerialDeps(Test.Unit, Test.Race)
}

// Unit runs every package's tests.
func (Test) Unit() error {
	return sh.RunV(binGo, "test", "./...")
}

// Race runs the cursor, transaction and row index tests with the race
// detector; the debounce timers and event delivery run on other goroutines.
func (Test) Race() error {
	return sh.RunV(binGo, "test", "-race", "./internal/cursor/...", "./internal/txn/...", "./internal/rowindex/...")
}

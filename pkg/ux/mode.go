// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux renders benchctl output for terminals and scripts.
//
// Output has three modes. Styled output uses the lipgloss palette and
// icons, plain output drops colors for pipes and dumb terminals, and JSON
// output prints the raw API payload for scripting.
package ux

import (
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

// Mode controls how a Printer renders.
type Mode int

const (
	// ModeStyled renders colors, icons and bordered tables.
	ModeStyled Mode = iota
	// ModePlain renders the same layout without colors.
	ModePlain
	// ModeJSON prints payloads as indented JSON and nothing else.
	ModeJSON
)

// String returns the mode name accepted by ParseMode.
func (m Mode) String() string {
	switch m {
	case ModeStyled:
		return "styled"
	case ModePlain:
		return "plain"
	case ModeJSON:
		return "json"
	default:
		return "unknown"
	}
}

// ParseMode converts a mode name. Unknown names return ModeStyled.
func ParseMode(s string) Mode {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "plain", "text":
		return ModePlain
	case "json", "machine":
		return ModeJSON
	default:
		return ModeStyled
	}
}

// DetectMode picks the mode for w.
//
// # Description
//
// An explicit BENCH_OUTPUT value wins. Otherwise output is styled only when
// w is a terminal and NO_COLOR is unset.
//
// # Inputs
//
//   - w: Destination writer, usually os.Stdout
//   - getenv: Environment lookup; nil uses os.Getenv
func DetectMode(w io.Writer, getenv func(string) string) Mode {
	if getenv == nil {
		getenv = os.Getenv
	}
	if v := getenv("BENCH_OUTPUT"); v != "" {
		return ParseMode(v)
	}
	if getenv("NO_COLOR") != "" || !isTerminal(w) {
		return ModePlain
	}
	return ModeStyled
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

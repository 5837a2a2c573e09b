// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// Palette - deep ocean teals with standard semantic colors.
var (
	ColorTealBright  = lipgloss.Color("#2CD7C7")
	ColorTealPrimary = lipgloss.Color("#20B9B4")
	ColorTealDeep    = lipgloss.Color("#16858E")
	ColorSlate       = lipgloss.Color("#2C4A54")

	ColorSuccess = lipgloss.Color("#2CD7C7")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
)

// Icon is a single-glyph status marker.
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconInfo    Icon = "•"
	IconRunning Icon = "↻"
)

// styles are bound to one renderer so color detection follows the
// Printer's writer rather than os.Stdout.
type styles struct {
	title   lipgloss.Style
	bold    lipgloss.Style
	muted   lipgloss.Style
	success lipgloss.Style
	warning lipgloss.Style
	err     lipgloss.Style
	accent  lipgloss.Style
	border  lipgloss.Style
	header  lipgloss.Style
	cell    lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) styles {
	return styles{
		title:   r.NewStyle().Bold(true).Foreground(ColorTealBright),
		bold:    r.NewStyle().Bold(true),
		muted:   r.NewStyle().Foreground(ColorSlate),
		success: r.NewStyle().Foreground(ColorSuccess),
		warning: r.NewStyle().Foreground(ColorWarning),
		err:     r.NewStyle().Foreground(ColorError),
		accent:  r.NewStyle().Foreground(ColorTealPrimary).Bold(true),
		border:  r.NewStyle().Foreground(ColorTealDeep),
		header:  r.NewStyle().Bold(true).Foreground(ColorTealBright).Padding(0, 1),
		cell:    r.NewStyle().Padding(0, 1),
	}
}

// =============================================================================
// Printer
// =============================================================================

// Printer writes benchctl output in one Mode.
//
// # Description
//
// Text helpers (Title, Success, Table, ...) write nothing in ModeJSON;
// commands print their payload with JSON instead. In ModePlain the same
// layout is written without colors.
//
// # Thread Safety
//
// Not safe for concurrent use.
type Printer struct {
	w     io.Writer
	mode  Mode
	style styles
}

// NewPrinter creates a Printer writing to w.
func NewPrinter(w io.Writer, mode Mode) *Printer {
	return &Printer{w: w, mode: mode, style: newStyles(lipgloss.NewRenderer(w))}
}

// Mode returns the Printer's output mode.
func (p *Printer) Mode() Mode { return p.mode }

// Writer returns the destination writer.
func (p *Printer) Writer() io.Writer { return p.w }

// JSON prints v as indented JSON regardless of mode.
func (p *Printer) JSON(v any) error {
	enc := json.NewEncoder(p.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (p *Printer) render(s lipgloss.Style, text string) string {
	if p.mode != ModeStyled {
		return text
	}
	return s.Render(text)
}

func (p *Printer) line(format string, args ...any) {
	if p.mode == ModeJSON {
		return
	}
	fmt.Fprintf(p.w, format+"\n", args...)
}

// Title prints a bold section heading.
func (p *Printer) Title(text string) {
	p.line("%s", p.render(p.style.title, text))
}

// Success prints a success message with icon.
func (p *Printer) Success(msg string) {
	p.line("%s %s", p.render(p.style.success, string(IconSuccess)), msg)
}

// Warning prints a warning message with icon.
func (p *Printer) Warning(msg string) {
	p.line("%s %s", p.render(p.style.warning, string(IconWarning)), p.render(p.style.warning, msg))
}

// Error prints an error message with icon.
func (p *Printer) Error(msg string) {
	p.line("%s %s", p.render(p.style.err, string(IconError)), p.render(p.style.err, msg))
}

// Info prints an informational message with icon.
func (p *Printer) Info(msg string) {
	p.line("%s %s", p.render(p.style.accent, string(IconInfo)), msg)
}

// Muted prints de-emphasized text.
func (p *Printer) Muted(msg string) {
	p.line("%s", p.render(p.style.muted, msg))
}

// Field is one labelled value for KeyValues.
type Field struct {
	Label string
	Value string
}

// KeyValues prints aligned "label: value" lines. Empty values are skipped.
func (p *Printer) KeyValues(fields ...Field) {
	width := 0
	for _, f := range fields {
		if f.Value != "" && len(f.Label) > width {
			width = len(f.Label)
		}
	}
	for _, f := range fields {
		if f.Value == "" {
			continue
		}
		label := fmt.Sprintf("%-*s", width+1, f.Label+":")
		p.line("  %s %s", p.render(p.style.muted, label), f.Value)
	}
}

// Table prints rows under headers. Styled mode draws a rounded border;
// plain mode aligns columns with spaces only.
func (p *Printer) Table(headers []string, rows [][]string) {
	if p.mode == ModeJSON {
		return
	}
	if len(rows) == 0 {
		p.Muted("(none)")
		return
	}

	t := table.New().Headers(headers...).Rows(rows...)
	if p.mode == ModeStyled {
		t = t.Border(lipgloss.RoundedBorder()).
			BorderStyle(p.style.border).
			StyleFunc(func(row, _ int) lipgloss.Style {
				if row == table.HeaderRow {
					return p.style.header
				}
				return p.style.cell
			})
	} else {
		t = t.Border(lipgloss.HiddenBorder()).
			BorderTop(false).BorderBottom(false).
			BorderLeft(false).BorderRight(false).
			BorderHeader(false).BorderColumn(true).
			StyleFunc(func(_, _ int) lipgloss.Style { return lipgloss.NewStyle().PaddingRight(1) })
	}
	p.line("%s", t.String())
}

// =============================================================================
// Value Formatting
// =============================================================================

// Status colors an execution or run status name.
func (p *Printer) Status(status string) string {
	switch strings.ToUpper(status) {
	case "COMPLETED":
		return p.render(p.style.success, status)
	case "FAILED", "TIMEOUT":
		return p.render(p.style.err, status)
	case "CANCELLED":
		return p.render(p.style.warning, status)
	case "RUNNING":
		return p.render(p.style.accent, status)
	default:
		return p.render(p.style.muted, status)
	}
}

// Percent formats a 0-100 rate, colored by the reliability bands
// (>=90 good, >=50 fair, else poor).
func (p *Printer) Percent(v float64) string {
	text := fmt.Sprintf("%.1f%%", v)
	switch {
	case v >= 90:
		return p.render(p.style.success, text)
	case v >= 50:
		return p.render(p.style.warning, text)
	default:
		return p.render(p.style.err, text)
	}
}

// Bold renders text in bold.
func (p *Printer) Bold(text string) string {
	return p.render(p.style.bold, text)
}

// ProgressBar renders a fixed-width bar, e.g. "[=====     ] 3/6".
func (p *Printer) ProgressBar(current, total, width int) string {
	if width <= 0 {
		width = 20
	}
	filled := 0
	if total > 0 {
		filled = current * width / total
	}
	filled = min(max(filled, 0), width)
	bar := strings.Repeat("=", filled) + strings.Repeat(" ", width-filled)
	return fmt.Sprintf("[%s] %d/%d", p.render(p.style.accent, bar), current, total)
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux renders human-facing terminal output for the slimbase CLI.
//
// Output is styled with lipgloss when the destination is a terminal and
// falls back to plain "key: value" text otherwise, so the same calls work
// for people and for scripts piping the output.
package ux

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// Palette.
var (
	ColorAccent  = lipgloss.Color("#2CD7C7")
	ColorPrimary = lipgloss.Color("#20B9B4")
	ColorBorder  = lipgloss.Color("#16858E")
	ColorSlate   = lipgloss.Color("#2C4A54")

	ColorSuccess = lipgloss.Color("#2CD7C7")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
)

// Styles provides pre-configured lipgloss styles.
var Styles = struct {
	Title   lipgloss.Style
	Label   lipgloss.Style
	Value   lipgloss.Style
	Muted   lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style

	Box      lipgloss.Style
	ErrorBox lipgloss.Style
}{
	Title:   lipgloss.NewStyle().Bold(true).Foreground(ColorAccent),
	Label:   lipgloss.NewStyle().Foreground(ColorPrimary),
	Value:   lipgloss.NewStyle().Bold(true),
	Muted:   lipgloss.NewStyle().Foreground(ColorSlate),
	Success: lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning: lipgloss.NewStyle().Foreground(ColorWarning),
	Error:   lipgloss.NewStyle().Foreground(ColorError),

	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorBorder).
		Padding(0, 1),
	ErrorBox: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorError).
		Padding(0, 1),
}

// Icon is a status glyph.
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconPending Icon = "○"
)

// Render returns the icon with its styling.
func (i Icon) Render() string {
	switch i {
	case IconSuccess:
		return Styles.Success.Render(string(i))
	case IconWarning:
		return Styles.Warning.Render(string(i))
	case IconError:
		return Styles.Error.Render(string(i))
	case IconPending:
		return Styles.Muted.Render(string(i))
	default:
		return string(i)
	}
}

// plainTag is the machine-readable prefix for an icon.
func (i Icon) plainTag() string {
	switch i {
	case IconSuccess:
		return "OK"
	case IconWarning:
		return "WARN"
	case IconError:
		return "ERROR"
	default:
		return "PENDING"
	}
}

// =============================================================================
// Printer
// =============================================================================

// Field is one labelled line in a box.
type Field struct {
	Label string
	Value string
}

// Printer writes styled or plain output to one destination.
type Printer struct {
	Out io.Writer

	// Plain disables styling and boxes.
	Plain bool
}

// NewPrinter styles output only when out is a terminal.
func NewPrinter(out io.Writer) *Printer {
	return &Printer{Out: out, Plain: !IsTerminal(out)}
}

// IsTerminal reports whether w is a terminal file descriptor.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Title prints a heading. Plain output omits it.
func (p *Printer) Title(text string) {
	if p.Plain {
		return
	}
	fmt.Fprintln(p.Out, Styles.Title.Render(text))
}

// Status prints one line prefixed by an icon.
func (p *Printer) Status(icon Icon, text string) {
	if p.Plain {
		fmt.Fprintf(p.Out, "%s: %s\n", icon.plainTag(), text)
		return
	}
	fmt.Fprintf(p.Out, "%s %s\n", icon.Render(), text)
}

// Success prints a success line.
func (p *Printer) Success(text string) { p.Status(IconSuccess, text) }

// Warning prints a warning line.
func (p *Printer) Warning(text string) { p.Status(IconWarning, text) }

// Error prints an error line.
func (p *Printer) Error(text string) { p.Status(IconError, text) }

// Box prints fields under a title. Labels are padded to a common width.
//
// # Examples
//
//	p.Box("slimbase is ready", []ux.Field{{"Gateway", "http://localhost:54321"}})
//
// Plain output:
//
//	Gateway: http://localhost:54321
func (p *Printer) Box(title string, fields []Field) {
	if p.Plain {
		for _, f := range fields {
			fmt.Fprintf(p.Out, "%s: %s\n", f.Label, f.Value)
		}
		return
	}
	fmt.Fprintln(p.Out, Styles.Box.Render(renderFields(title, fields)))
}

// ErrorBox prints fields in an error-styled box.
func (p *Printer) ErrorBox(title string, fields []Field) {
	if p.Plain {
		fmt.Fprintf(p.Out, "ERROR: %s\n", title)
		for _, f := range fields {
			fmt.Fprintf(p.Out, "%s: %s\n", f.Label, f.Value)
		}
		return
	}
	fmt.Fprintln(p.Out, Styles.ErrorBox.Render(renderFields(Styles.Error.Bold(true).Render(title), fields)))
}

func renderFields(title string, fields []Field) string {
	width := 0
	for _, f := range fields {
		if len(f.Label) > width {
			width = len(f.Label)
		}
	}
	var b strings.Builder
	b.WriteString(Styles.Title.Render(title))
	for _, f := range fields {
		b.WriteString("\n")
		b.WriteString(Styles.Label.Render(fmt.Sprintf("%-*s", width+1, f.Label+":")))
		b.WriteString(" ")
		b.WriteString(Styles.Value.Render(f.Value))
	}
	return b.String()
}

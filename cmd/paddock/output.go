package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/ggoodman/paddock/auth"
	"gopkg.in/yaml.v3"
)

const (
	outputTable = "table"
	outputJSON  = "json"
	outputYAML  = "yaml"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	dimStyle    = lipgloss.NewStyle().Faint(true)
	adminStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("13")).Bold(true)
)

// render writes v as JSON or YAML, or as a table built from headers and rows.
func (a *app) render(w io.Writer, v any, headers []string, rows [][]string) error {
	switch a.output {
	case outputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case outputYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}

	if len(rows) == 0 {
		_, err := fmt.Fprintln(w, dimStyle.Render("(none)"))
		return err
	}
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	_, err := fmt.Fprintln(w, t.Render())
	return err
}

// done prints a one-line confirmation unless a structured format was asked
// for, in which case v is rendered instead.
func (a *app) done(w io.Writer, v any, msg string) error {
	if a.output != outputTable {
		return a.render(w, v, nil, nil)
	}
	_, err := fmt.Fprintln(w, okStyle.Render(msg))
	return err
}

func roleLabel(role string) string {
	if role == auth.RoleAdmin {
		return adminStyle.Render(role)
	}
	return role
}

// cmd/display_helpers.go - Shared display and formatting helpers
package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const (
	outputTable = "table"
	outputJSON  = "json"
	outputYAML  = "yaml"
)

func addOutputFlag(cmd *cobra.Command) {
	cmd.Flags().StringP("output", "o", outputTable, "output format (table, json, yaml)")
}

func outputFormat(cmd *cobra.Command) (string, error) {
	format, _ := cmd.Flags().GetString("output")
	switch format {
	case outputTable, outputJSON, outputYAML:
		return format, nil
	}
	return "", usageError("unsupported output format %q (use table, json or yaml)", format)
}

// render writes v as JSON or YAML, or calls table for the table format.
func render(cmd *cobra.Command, v interface{}, table func(w io.Writer) error) error {
	format, err := outputFormat(cmd)
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()

	switch format {
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
	return table(w)
}

func writeTable(w io.Writer, header []string, rows [][]string) error {
	if len(rows) == 0 {
		fmt.Fprintln(w, "No results.")
		return nil
	}

	table := tablewriter.NewWriter(w)
	cols := make([]any, len(header))
	for i, h := range header {
		cols[i] = h
	}
	table.Header(cols...)
	for _, row := range rows {
		if err := table.Append(row); err != nil {
			return fmt.Errorf("failed to render row: %w", err)
		}
	}
	return table.Render()
}

func colorStatus(status string) string {
	switch status {
	case "completed":
		return color.New(color.FgGreen).Sprint("✓ " + status)
	case "running":
		return color.New(color.FgYellow).Sprint("⟳ " + status)
	case "failed", "cancelled":
		return color.New(color.FgRed).Sprint("✗ " + status)
	case "pending":
		return color.New(color.FgCyan).Sprint("○ " + status)
	default:
		return status
	}
}

func colorRole(role string) string {
	switch role {
	case "super_admin":
		return color.New(color.FgRed, color.Bold).Sprint(role)
	case "admin":
		return color.New(color.FgYellow).Sprint(role)
	default:
		return role
	}
}

func colorBool(v bool) string {
	if v {
		return color.New(color.FgGreen).Sprint("yes")
	}
	return color.New(color.FgHiBlack).Sprint("no")
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

func formatList(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}

func printSuccess(w io.Writer, format string, args ...interface{}) {
	color.New(color.FgGreen).Fprintf(w, "✓ "+format+"\n", args...)
}

func printWarning(w io.Writer, format string, args ...interface{}) {
	color.New(color.FgYellow).Fprintf(w, "⚠ "+format+"\n", args...)
}

func printInfo(w io.Writer, format string, args ...interface{}) {
	color.New(color.FgCyan).Fprintf(w, format+"\n", args...)
}

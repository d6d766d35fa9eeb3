package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/kalambet/opsassist/internal/storage"
)

// Status lines go to stderr; stdout carries only the JSON a command
// produces, so `opsassist generate sop ... > sop.json` stays clean.

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + colorReset
}

func printSuccess(format string, args ...any) {
	fmt.Fprintln(os.Stderr, colorize(colorGreen, "✓ "+fmt.Sprintf(format, args...)))
}

func printError(format string, args ...any) {
	fmt.Fprintln(os.Stderr, colorize(colorRed, "✗ "+fmt.Sprintf(format, args...)))
}

func printWarning(format string, args ...any) {
	fmt.Fprintln(os.Stderr, colorize(colorYellow, "⚠ "+fmt.Sprintf(format, args...)))
}

func printStep(format string, args ...any) {
	fmt.Fprintln(os.Stderr, colorize(colorCyan, "→ "+fmt.Sprintf(format, args...)))
}

func printStatus(label string, format string, args ...any) {
	fmt.Fprintf(os.Stderr, "  %s %s\n", colorize(colorBold, label+":"), fmt.Sprintf(format, args...))
}

// confidenceColor maps a verifier verdict to its display color.
func confidenceColor(level string) string {
	switch level {
	case "high":
		return colorGreen
	case "medium":
		return colorYellow
	default:
		return colorRed
	}
}

// printConfidence reports a verification verdict, colored by level.
func printConfidence(level, format string, args ...any) {
	msg := fmt.Sprintf("confidence %s: %s", level, fmt.Sprintf(format, args...))
	fmt.Fprintln(os.Stderr, colorize(confidenceColor(level), "◆ "+msg))
}

// printDocuments renders the document registry, newest first as served.
func printDocuments(w io.Writer, docs []storage.Document) {
	if len(docs) == 0 {
		fmt.Fprintln(w, "No documents ingested yet.")
		return
	}
	for _, d := range docs {
		fmt.Fprintf(w, "  %s  %-5s %-14s %3d chunks  %s  %s\n",
			d.IngestedAt.Local().Format(time.DateTime),
			d.DocType,
			d.AuthorityLevel,
			d.ChunkCount,
			colorize(colorBold, d.DocID),
			d.Filename,
		)
	}
}

// writeOutput pretty-prints raw to path, or to stdout when path is empty.
func writeOutput(path string, raw json.RawMessage) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return fmt.Errorf("formatting response: %w", err)
	}
	buf.WriteByte('\n')
	if path == "" {
		_, err := os.Stdout.Write(buf.Bytes())
		return err
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	printSuccess("Wrote %s", path)
	return nil
}

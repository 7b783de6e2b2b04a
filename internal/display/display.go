// Package display renders the CLI's terminal-facing output: the
// startup logo, an in-place progress line, human-readable byte sizes,
// and the backup-listing table, grounded on the original engine's
// io.py (printHeadline, printToTerminalSize, readableSize, printBackups).
package display

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"golang.org/x/term"
)

const defaultTerminalWidth = 80

var logoLines = []string{
	` _____       _     _  __ _     _     `,
	`|  __ \     | |   | |/ _(_)   | |    `,
	`| |  \/ ___ | | __| | |_ _ ___| |__  `,
	`| | __ / _ \| |/ _' |  _| / __| '_ \ `,
	`| |_\ \ (_) | | (_| | | | \__ \ | | |`,
	` \____/\___/|_|\__,_|_| |_|___/_| |_|`,
}

// Logo prints the colorized startup banner to stdout.
func Logo() {
	c := color.New(color.FgCyan, color.Bold)
	for _, line := range logoLines {
		c.Println(line)
	}
}

// terminalWidth returns the current terminal column width, falling back
// to defaultTerminalWidth when it cannot be determined (e.g. output is
// redirected to a file).
func terminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width <= 0 {
		return defaultTerminalWidth
	}
	return width
}

// ProgressLine writes text truncated or padded to the terminal width,
// followed by a carriage return rather than a newline, so the next
// progress update overwrites it in place.
func ProgressLine(w io.Writer, text string) {
	width := terminalWidth()
	if len(text) > width {
		text = text[:width]
	} else {
		text += strings.Repeat(" ", width-len(text))
	}
	fmt.Fprint(w, text+"\r")
}

// HumanSize formats bytes as a human-readable string (e.g. "1.2 MB").
func HumanSize(bytesCount uint64) string {
	return humanize.Bytes(bytesCount)
}

// Table renders the backup-listing rows as "Datetime | Folder | HDD | DB"
// and returns the formatted table as a string.
func Table(rows [][4]string) string {
	var buf bytes.Buffer
	table := tablewriter.NewWriter(&buf)
	table.SetHeader([]string{"Datetime", "Folder", "HDD", "DB"})
	table.SetAutoWrapText(false)
	for _, row := range rows {
		table.Append(row[:])
	}
	table.Render()
	return buf.String()
}

// Totals renders the per-tree "Copied / Linked / Hash-linked" summary
// line with each label colorized.
func Totals(copied, linked, hashLinked uint64) string {
	bold := color.New(color.Bold).SprintFunc()
	return fmt.Sprintf("%s: %s  %s: %s  %s: %s",
		bold("Copied"), HumanSize(copied),
		bold("Linked"), HumanSize(linked),
		bold("Hash-linked"), HumanSize(hashLinked),
	)
}

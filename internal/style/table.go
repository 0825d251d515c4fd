package style

import (
	"regexp"
	"strings"
)

// Alignment controls horizontal placement inside a column.
type Alignment int

const (
	AlignLeft Alignment = iota
	AlignRight
	AlignCenter
)

// Column describes one table column.
type Column struct {
	Name  string
	Width int
	Align Alignment
}

// Table renders fixed-width rows with an optional header separator.
// Values wider than their column are truncated with an ellipsis.
type Table struct {
	columns   []Column
	rows      [][]string
	headerSep bool
	indent    string
}

// NewTable creates a table with the given columns.
func NewTable(columns ...Column) *Table {
	return &Table{
		columns:   columns,
		headerSep: true,
		indent:    "  ",
	}
}

// SetIndent sets the per-line prefix. Returns the table for chaining.
func (t *Table) SetIndent(indent string) *Table {
	t.indent = indent
	return t
}

// SetHeaderSeparator toggles the line under the header.
func (t *Table) SetHeaderSeparator(sep bool) *Table {
	t.headerSep = sep
	return t
}

// AddRow appends a row. Missing cells are padded with empty strings; extra
// cells are dropped.
func (t *Table) AddRow(values ...string) *Table {
	row := make([]string, len(t.columns))
	for i := range row {
		if i < len(values) {
			row[i] = values[i]
		}
	}
	t.rows = append(t.rows, row)
	return t
}

// Render produces the table text, one trailing newline per line.
func (t *Table) Render() string {
	if len(t.columns) == 0 {
		return ""
	}
	var sb strings.Builder

	sb.WriteString(t.indent)
	for i, col := range t.columns {
		if i > 0 {
			sb.WriteString("  ")
		}
		sb.WriteString(t.pad(RenderHeader(col.Name), col.Name, col.Width, col.Align))
	}
	sb.WriteString("\n")

	if t.headerSep {
		sb.WriteString(t.indent)
		for i, col := range t.columns {
			if i > 0 {
				sb.WriteString("  ")
			}
			sb.WriteString(strings.Repeat("─", col.Width))
		}
		sb.WriteString("\n")
	}

	for _, row := range t.rows {
		sb.WriteString(t.indent)
		for i, col := range t.columns {
			if i > 0 {
				sb.WriteString("  ")
			}
			styled := row[i]
			plain := stripAnsi(styled)
			if len(plain) > col.Width {
				// Truncation drops styling so the cut never lands
				// inside an escape sequence.
				plain = truncate(plain, col.Width)
				styled = plain
			}
			sb.WriteString(t.pad(styled, plain, col.Width, col.Align))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// pad aligns styled text to width using the plain text for measurement, so
// ANSI sequences never count against the column.
func (t *Table) pad(styled, plain string, width int, align Alignment) string {
	gap := width - len(plain)
	if gap <= 0 {
		return styled
	}
	switch align {
	case AlignRight:
		return strings.Repeat(" ", gap) + styled
	case AlignCenter:
		left := gap / 2
		return strings.Repeat(" ", left) + styled + strings.Repeat(" ", gap-left)
	default:
		return styled + strings.Repeat(" ", gap)
	}
}

func truncate(s string, width int) string {
	if len(s) <= width {
		return s
	}
	if width <= 3 {
		return s[:width]
	}
	return s[:width-3] + "..."
}

var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;]*m`)

// stripAnsi removes ANSI color sequences.
func stripAnsi(s string) string {
	return ansiPattern.ReplaceAllString(s, "")
}

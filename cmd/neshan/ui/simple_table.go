package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// SimpleTable renders API results as aligned columns. Columns marked numeric
// (distances, durations, counters) are right-aligned so magnitudes line up.
type SimpleTable struct {
	Title   string
	Headers []string
	Rows    [][]string

	numeric map[int]bool
}

// NewSimpleTable creates a table with the given title and column headers.
func NewSimpleTable(title string, headers ...string) *SimpleTable {
	return &SimpleTable{
		Title:   title,
		Headers: headers,
		numeric: make(map[int]bool),
	}
}

// Numeric marks the named columns as right-aligned. Unknown names are ignored.
func (t *SimpleTable) Numeric(headers ...string) *SimpleTable {
	for _, name := range headers {
		for i, h := range t.Headers {
			if h == name {
				t.numeric[i] = true
			}
		}
	}
	return t
}

// AddRow appends a row. Cells beyond the header count are not rendered.
func (t *SimpleTable) AddRow(cells ...string) {
	t.Rows = append(t.Rows, cells)
}

func (t *SimpleTable) align(col int) lipgloss.Position {
	if t.numeric[col] {
		return lipgloss.Right
	}
	return lipgloss.Left
}

func (t *SimpleTable) widths() []int {
	widths := make([]int, len(t.Headers))
	for i, h := range t.Headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range t.Rows {
		for i := 0; i < len(row) && i < len(widths); i++ {
			widths[i] = max(widths[i], lipgloss.Width(row[i]))
		}
	}
	// one cell of padding on each side
	for i := range widths {
		widths[i] += 2
	}
	return widths
}

// View renders the table. An empty table renders nothing, and empty cells
// render as a muted dash so missing matrix elements stay visible.
func (t *SimpleTable) View(styles Styles) string {
	if len(t.Rows) == 0 {
		return ""
	}

	var sb strings.Builder
	if t.Title != "" {
		sb.WriteString(styles.Title.Render(t.Title) + "\n")
	}

	widths := t.widths()
	sep := styles.Muted.Render("|")

	for i, h := range t.Headers {
		if i > 0 {
			sb.WriteString(sep)
		}
		sb.WriteString(styles.Bold.Padding(0, 1).Width(widths[i]).Align(t.align(i)).Render(h))
	}
	sb.WriteString("\n")

	total := len(widths) - 1
	for _, w := range widths {
		total += w
	}
	sb.WriteString(styles.Muted.Render(strings.Repeat("-", total)) + "\n")

	for _, row := range t.Rows {
		for i := range widths {
			if i > 0 {
				sb.WriteString(sep)
			}
			cell := styles.Body
			value := "-"
			if i < len(row) && row[i] != "" {
				value = row[i]
			} else {
				cell = styles.Muted
			}
			sb.WriteString(cell.Padding(0, 1).Width(widths[i]).Align(t.align(i)).Render(value))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

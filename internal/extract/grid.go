package extract

import (
	"regexp"
	"strconv"
	"strings"
)

// Column describes one grid column.
type Column struct {
	HeaderName string `json:"headerName"`
	Field      string `json:"field"`
}

// Grid is a markdown table reshaped for a data grid widget.
type Grid struct {
	Columns []Column         `json:"columnDefs"`
	Rows    []map[string]any `json:"rowData"`
}

var (
	numericCell    = regexp.MustCompile(`^-?\d+(\.\d+)?$`)
	fieldSpaces    = regexp.MustCompile(`\s+`)
	numberReplacer = strings.NewReplacer("$", "", ",", "")
)

// ToGrid converts markdown table text to a Grid. Field names are the
// lowercased headers with whitespace replaced by underscores. Cells that are
// numeric once "$" and "," are removed become float64. Rows containing "*"
// are treated as summary lines and skipped.
func ToGrid(markdown string) Grid {
	grid := Grid{Columns: []Column{}, Rows: []map[string]any{}}

	var lines []string
	for _, line := range strings.Split(markdown, "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}

	sep := -1
	for i, line := range lines {
		if isGridSeparator(line) {
			sep = i
			break
		}
	}
	if sep <= 0 {
		return grid
	}

	headers := splitCells(lines[sep-1])
	fields := make([]string, len(headers))
	for i, h := range headers {
		fields[i] = fieldSpaces.ReplaceAllString(strings.ToLower(h), "_")
		grid.Columns = append(grid.Columns, Column{HeaderName: h, Field: fields[i]})
	}

	for _, line := range lines[sep+1:] {
		if !strings.Contains(line, "|") || strings.Contains(line, "*") {
			continue
		}
		values := splitCells(line)
		row := make(map[string]any, len(fields))
		for i, field := range fields {
			var value string
			if i < len(values) {
				value = values[i]
			}
			row[field] = gridValue(value)
		}
		grid.Rows = append(grid.Rows, row)
	}
	return grid
}

func gridValue(cell string) any {
	cleaned := numberReplacer.Replace(cell)
	if numericCell.MatchString(cleaned) {
		if f, err := strconv.ParseFloat(cleaned, 64); err == nil {
			return f
		}
	}
	return cell
}

// isGridSeparator reports whether every cell of a pipe line is made of
// dashes and colons.
func isGridSeparator(line string) bool {
	if !strings.Contains(line, "|") || !strings.Contains(line, "-") {
		return false
	}
	cells := splitCells(line)
	if len(cells) == 0 {
		return false
	}
	for _, c := range cells {
		if strings.Trim(c, "-: ") != "" {
			return false
		}
	}
	return true
}

func splitCells(line string) []string {
	line = strings.TrimSpace(line)
	line = strings.TrimPrefix(line, "|")
	line = strings.TrimSuffix(line, "|")

	var (
		out []string
		cur strings.Builder
	)
	for i := 0; i < len(line); i++ {
		switch {
		case line[i] == '\\' && i+1 < len(line) && line[i+1] == '|':
			cur.WriteByte('|')
			i++
		case line[i] == '|':
			out = append(out, strings.TrimSpace(cur.String()))
			cur.Reset()
		default:
			cur.WriteByte(line[i])
		}
	}
	return append(out, strings.TrimSpace(cur.String()))
}

package extract

import (
	"regexp"
	"strconv"
	"strings"
)

const (
	maxRenderedRows = 10
	maxPipeRows     = 15
	maxCommaRows    = 10
	maxLooseRows    = 10
)

var (
	separatorDashes     = regexp.MustCompile(`-{3,}`)
	numberedItemPattern = regexp.MustCompile(`^\s*(\d+)\.\s+(.+?)\s*$`)
	// Lazy bracketed spans containing at least one object.
	jsonArrayPattern = regexp.MustCompile(`\[[\s\S]*?\{[\s\S]*?\}[\s\S]*?\]`)
)

// layer is one extraction strategy. Layers are tried in order and the first
// accepted result wins.
type layer struct {
	name    string
	extract func(text string) []string
	accept  func(rows []string) bool
}

func nonEmpty(rows []string) bool { return len(rows) > 0 }

func firstOf(text string, layers []layer) []string {
	for _, l := range layers {
		accept := l.accept
		if accept == nil {
			accept = nonEmpty
		}
		if rows := l.extract(text); accept(rows) {
			return rows
		}
	}
	return []string{}
}

// ExtractMarkdownTable returns the first markdown table in text, verbatim
// and newline-joined, or "" when there is none. The table starts at the
// header line preceding the first separator and runs while lines contain a
// pipe or are blank.
func ExtractMarkdownTable(text string) string {
	if text == "" {
		return ""
	}
	lines := strings.Split(text, "\n")

	var table []string
	inTable := false
	for i, line := range lines {
		if !inTable {
			if isSeparatorLine(line) {
				inTable = true
				if i > 0 && strings.Contains(lines[i-1], "|") {
					table = append(table, lines[i-1])
				}
				table = append(table, line)
			}
			continue
		}
		if strings.Contains(line, "|") || strings.TrimSpace(line) == "" {
			table = append(table, line)
			continue
		}
		break
	}

	for len(table) > 0 && strings.TrimSpace(table[len(table)-1]) == "" {
		table = table[:len(table)-1]
	}
	if len(table) < 2 {
		return ""
	}
	return strings.Join(table, "\n")
}

func isSeparatorLine(line string) bool {
	return strings.Contains(line, "|") && separatorDashes.MatchString(line)
}

// ExtractFromResponse pulls a preview out of an assistant's final text. A
// markdown table comes back as a single element holding the whole table. A
// numbered list of "key: value" items is converted to a markdown table, any
// other numbered list to "Row N: text" lines. Failing both, up to ten
// table-like lines are returned.
func ExtractFromResponse(text string) []string {
	if strings.TrimSpace(text) == "" {
		return []string{}
	}
	return firstOf(text, []layer{
		{name: "markdown", extract: markdownPassthrough},
		{name: "numbered", extract: numberedListPreview},
		{name: "loose", extract: looseLinesPreview},
	})
}

// ExtractPreview finds tabular data in arbitrary text: a JSON array of
// objects, then a run of pipe-delimited lines, then a run of comma-separated
// lines.
func ExtractPreview(text string) []string {
	if strings.TrimSpace(text) == "" {
		return []string{}
	}
	return firstOf(text, []layer{
		{name: "json", extract: jsonArrayPreview},
		{name: "pipes", extract: pipeRunPreview},
		{name: "commas", extract: commaRunPreview, accept: func(rows []string) bool { return len(rows) > 1 }},
	})
}

func markdownPassthrough(text string) []string {
	if table := ExtractMarkdownTable(text); table != "" {
		return []string{table}
	}
	return nil
}

type numberedItem struct {
	n    int
	text string
}

func numberedListPreview(text string) []string {
	var items []numberedItem
	for _, line := range strings.Split(text, "\n") {
		m := numberedItemPattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		items = append(items, numberedItem{n: n, text: m[2]})
	}
	if len(items) == 0 {
		return nil
	}

	first, ok := parsePairs(items[0].text)
	if !ok {
		out := make([]string, 0, len(items))
		for _, item := range items {
			out = append(out, "Row "+strconv.Itoa(item.n)+": "+item.text)
		}
		return out
	}

	header := make([]string, len(first))
	for i, p := range first {
		header[i] = p[0]
	}
	var rows [][]string
	for _, item := range items {
		pairs, ok := parsePairs(item.text)
		if !ok || len(pairs) != len(header) {
			continue
		}
		row := make([]string, len(pairs))
		for i, p := range pairs {
			row[i] = p[1]
		}
		rows = append(rows, row)
	}
	return renderTable(header, rows)
}

// parsePairs splits "name: Alice, age: 30" into ordered key/value pairs.
// Keys lose surrounding markdown emphasis.
func parsePairs(item string) ([][2]string, bool) {
	parts := strings.Split(item, ",")
	pairs := make([][2]string, 0, len(parts))
	for _, part := range parts {
		k, v, ok := strings.Cut(part, ":")
		if !ok {
			return nil, false
		}
		k = strings.Trim(strings.TrimSpace(k), "*_")
		if k == "" {
			return nil, false
		}
		pairs = append(pairs, [2]string{k, strings.TrimSpace(v)})
	}
	return pairs, len(pairs) > 0
}

func looseLinesPreview(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		t := strings.TrimSpace(line)
		if t == "" {
			continue
		}
		if strings.Contains(t, "|") || strings.Count(t, ",") >= 2 || strings.Count(t, ":") >= 2 {
			out = append(out, t)
			if len(out) == maxLooseRows {
				break
			}
		}
	}
	return out
}

func jsonArrayPreview(text string) []string {
	candidates := jsonArrayPattern.FindAllString(text, -1)
	if start, end := strings.Index(text, "["), strings.LastIndex(text, "]"); start >= 0 && end > start {
		candidates = append(candidates, text[start:end+1])
	}
	for _, c := range candidates {
		v, ok := decodeJSON(c)
		if !ok {
			continue
		}
		items, ok := v.([]any)
		if !ok {
			continue
		}
		if rows := renderRecords(items); len(rows) > 0 {
			return rows
		}
	}
	return nil
}

// pipeRunPreview returns the first contiguous run of lines with at least two
// pipes.
func pipeRunPreview(text string) []string {
	return delimitedRun(text, "|", maxPipeRows)
}

func commaRunPreview(text string) []string {
	return delimitedRun(text, ",", maxCommaRows)
}

func delimitedRun(text, delim string, limit int) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		t := strings.TrimSpace(line)
		if strings.Count(t, delim) >= 2 {
			out = append(out, t)
			if len(out) == limit {
				break
			}
			continue
		}
		if len(out) > 0 {
			break
		}
	}
	return out
}

// renderRecords renders a list of objects as a markdown table. Columns come
// from the first object's keys; missing keys render as empty cells.
func renderRecords(items []any) []string {
	if len(items) == 0 {
		return nil
	}
	first, ok := items[0].(*object)
	if !ok || len(first.keys) == 0 {
		return nil
	}
	var rows [][]string
	for _, item := range items {
		if len(rows) == maxRenderedRows {
			break
		}
		obj, ok := item.(*object)
		if !ok {
			continue
		}
		row := make([]string, len(first.keys))
		for i, k := range first.keys {
			if v, ok := obj.get(k); ok {
				row[i] = cellText(v)
			}
		}
		rows = append(rows, row)
	}
	return renderTable(first.keys, rows)
}

// renderKeyValues renders an object as a two-column Key/Value table.
func renderKeyValues(obj *object) []string {
	if len(obj.keys) == 0 {
		return nil
	}
	rows := make([][]string, 0, maxRenderedRows)
	for _, k := range obj.keys {
		if len(rows) == maxRenderedRows {
			break
		}
		rows = append(rows, []string{k, cellText(obj.values[k])})
	}
	return renderTable([]string{"Key", "Value"}, rows)
}

// Rendered rows must stay on one line and keep their column count.
var cellReplacer = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ", "|", `\|`)

func renderTable(header []string, rows [][]string) []string {
	out := make([]string, 0, len(rows)+2)
	out = append(out, renderRow(header))
	out = append(out, "|"+strings.Repeat("---|", len(header)))
	for _, row := range rows {
		out = append(out, renderRow(row))
	}
	return out
}

func renderRow(cells []string) string {
	escaped := make([]string, len(cells))
	for i, c := range cells {
		escaped[i] = cellReplacer.Replace(c)
	}
	return "| " + strings.Join(escaped, " | ") + " |"
}

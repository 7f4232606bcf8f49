package extract

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/user/fabricagent/pkg/dataagent"
)

var (
	argumentKeys = []string{"sql", "query", "sql_query", "statement", "command", "code"}
	outputKeys   = []string{"sql", "query", "sql_query", "statement", "command", "code", "generated_code"}

	argumentPairPattern = quotedPairPattern(argumentKeys, `"`)
	outputPairPattern   = quotedPairPattern(outputKeys, `"`)
	outputSinglePattern = quotedPairPattern(outputKeys, `'`)

	pythonUnescaper = strings.NewReplacer(`\'`, `'`, `\"`, `"`, `\n`, "\n", `\t`, "\t", `\r`, "\r", `\\`, `\`)
)

// quotedPairPattern matches "key": "value" pairs for the given keys in text
// that is not parseable as a whole.
func quotedPairPattern(keys []string, quote string) *regexp.Regexp {
	q := regexp.QuoteMeta(quote)
	return regexp.MustCompile(q + `(` + strings.Join(keys, "|") + `)` + q + `\s*:\s*` + q + `((?:[^` + q + `\\]|\\.)*)` + q)
}

// Analysis is what one tool call contributed: SQL candidates in discovery
// order and a preview of its output. Preview is never nil.
type Analysis struct {
	SQL     []string
	Preview []string
}

// AnalyzeToolCall extracts SQL candidates from a tool call's arguments and
// output, and renders a preview of the output.
func AnalyzeToolCall(call dataagent.ToolCall) Analysis {
	args := call.ArgumentsText()
	output := call.OutputText()

	var sql []string
	sql = append(sql, argumentSQL(args)...)
	sql = append(sql, outputSQL(output)...)

	return Analysis{SQL: sql, Preview: outputPreview(output)}
}

func argumentSQL(args string) []string {
	if strings.TrimSpace(args) == "" {
		return nil
	}
	if v, ok := decodeJSON(args); ok {
		if obj, ok := v.(*object); ok {
			return lookupSQL(obj, argumentKeys)
		}
		return nil
	}
	if !containsAny(args, "SELECT", "INSERT", "UPDATE", "DELETE") {
		return nil
	}
	return quotedValues(argumentPairPattern, args, unquoteJSON)
}

func outputSQL(output string) []string {
	if strings.TrimSpace(output) == "" {
		return nil
	}
	if obj, ok := decodeObject(output); ok {
		if hits := lookupSQL(obj, outputKeys); len(hits) > 0 {
			return hits
		}
	}
	if !containsAny(strings.ToUpper(output), "SELECT", "INSERT", "UPDATE", "DELETE", "FROM") {
		return nil
	}
	var hits []string
	hits = append(hits, quotedValues(outputPairPattern, output, unquoteJSON)...)
	hits = append(hits, quotedValues(outputSinglePattern, output, pythonUnescaper.Replace)...)
	hits = append(hits, FindStatements(output)...)
	return hits
}

// lookupSQL collects SQL-bearing string values: top-level keys first in key
// list order, then one level into nested objects in document order.
func lookupSQL(obj *object, keys []string) []string {
	var hits []string
	collect := func(o *object) {
		for _, k := range keys {
			v, ok := o.get(k)
			if !ok {
				continue
			}
			if s, ok := v.(string); ok {
				if s = strings.TrimSpace(s); len(s) > minStatementLen {
					hits = append(hits, s)
				}
			}
		}
	}
	collect(obj)
	for _, k := range obj.keys {
		if nested, ok := obj.values[k].(*object); ok {
			collect(nested)
		}
	}
	return hits
}

func quotedValues(re *regexp.Regexp, text string, unquote func(string) string) []string {
	var hits []string
	for _, m := range re.FindAllStringSubmatch(text, -1) {
		v := strings.TrimSpace(unquote(m[2]))
		if len(v) > minStatementLen {
			hits = append(hits, v)
		}
	}
	return hits
}

// unquoteJSON decodes the body of a JSON string literal, falling back to the
// raw body when it does not decode.
func unquoteJSON(body string) string {
	var s string
	if err := json.Unmarshal([]byte(`"`+body+`"`), &s); err != nil {
		return body
	}
	return s
}

func containsAny(s string, words ...string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

// outputPreview renders tool output as table lines. Lists of objects and
// "data"/"results" lists become markdown tables, other objects a Key/Value
// table. Text that is not JSON goes through ExtractPreview.
func outputPreview(output string) []string {
	if strings.TrimSpace(output) == "" {
		return []string{}
	}
	v, ok := decodeJSON(output)
	if !ok {
		return ExtractPreview(output)
	}
	if rows := previewValue(v); len(rows) > 0 {
		return rows
	}
	return []string{}
}

func previewValue(v any) []string {
	switch val := v.(type) {
	case []any:
		return renderRecords(val)
	case *object:
		for _, key := range []string{"data", "results"} {
			if items, ok := val.values[key].([]any); ok {
				if rows := renderRecords(items); len(rows) > 0 {
					return rows
				}
			}
		}
		return renderKeyValues(val)
	case string:
		// Output double-encoded as a JSON string.
		return ExtractPreview(val)
	}
	return nil
}

package extract

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/fabricagent/pkg/dataagent"
)

func call(args, output string) dataagent.ToolCall {
	return dataagent.ToolCall{
		ID:       "call_1",
		Type:     "function",
		Function: &dataagent.FunctionCall{Name: "run_query", Arguments: dataagent.Text(args)},
		Output:   dataagent.Text(output),
	}
}

func TestAnalyzeDataListOutput(t *testing.T) {
	a := AnalyzeToolCall(call(`{"sql": "SELECT a, b FROM t"}`, `{"data": [{"a":1,"b":2},{"a":3,"b":4}]}`))

	assert.Equal(t, []string{"SELECT a, b FROM t"}, a.SQL)
	assert.Equal(t, []string{"| a | b |", "|---|---|", "| 1 | 2 |", "| 3 | 4 |"}, a.Preview)
}

func TestAnalyzeArgumentKeys(t *testing.T) {
	tests := []struct {
		name string
		args string
		want []string
	}{
		{"query key", `{"query": "  SELECT id FROM orders  "}`, []string{"SELECT id FROM orders"}},
		{"key list order", `{"code": "SELECT c FROM code_t", "sql": "SELECT s FROM sql_t"}`, []string{"SELECT s FROM sql_t", "SELECT c FROM code_t"}},
		{"nested one level", `{"params": {"sql_query": "SELECT x FROM y z"}}`, []string{"SELECT x FROM y z"}},
		{"too short", `{"sql": "SELECT 1"}`, nil},
		{"not an object", `["SELECT id FROM orders"]`, nil},
		{"broken json fallback", `{"query": "SELECT a FROM b WHERE c = \"d\"", oops}`, []string{`SELECT a FROM b WHERE c = "d"`}},
		{"broken json lowercase", `{"query": "select a from b where c = 1", oops}`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, argumentSQL(tt.args))
		})
	}
}

func TestAnalyzeOutputGeneratedCode(t *testing.T) {
	a := AnalyzeToolCall(call(`{}`, `{"generated_code": "SELECT region, SUM(sales) FROM orders GROUP BY region", "rows": 2}`))
	assert.Equal(t, []string{"SELECT region, SUM(sales) FROM orders GROUP BY region"}, a.SQL)
	assert.Equal(t, []string{
		"| Key | Value |",
		"|---|---|",
		"| generated_code | SELECT region, SUM(sales) FROM orders GROUP BY region |",
		"| rows | 2 |",
	}, a.Preview)
}

func TestAnalyzeOutputTextFallback(t *testing.T) {
	a := AnalyzeToolCall(call("", `Executed "SELECT * FROM sales" ok`))
	assert.Equal(t, []string{"SELECT * FROM sales"}, a.SQL)
	assert.Equal(t, []string{}, a.Preview)
}

func TestAnalyzeOutputPythonRepr(t *testing.T) {
	a := AnalyzeToolCall(call("", `{'query': 'SELECT id FROM t WHERE a = 1', 'rows': 3}`))
	require.NotEmpty(t, a.SQL)
	assert.Equal(t, "SELECT id FROM t WHERE a = 1", a.SQL[0])
}

func TestAnalyzeObjectArgumentsFromWire(t *testing.T) {
	var tc dataagent.ToolCall
	raw := `{"id":"c1","type":"function","function":{"name":"q","arguments":{"sql":"SELECT n FROM things"},"output":"[{\"n\":1}]"}}`
	require.NoError(t, json.Unmarshal([]byte(raw), &tc))

	a := AnalyzeToolCall(tc)
	assert.Equal(t, []string{"SELECT n FROM things"}, a.SQL)
	assert.Equal(t, []string{"| n |", "|---|", "| 1 |"}, a.Preview)
}

func TestOutputPreview(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   []string
	}{
		{"list of objects", `[{"a":1,"b":null},{"a":"x"}]`, []string{"| a | b |", "|---|---|", "| 1 |  |", "| x |  |"}},
		{"results key", `{"results": [{"k": true}]}`, []string{"| k |", "|---|", "| true |"}},
		{"key value", `{"row_count": 2, "status": "ok"}`, []string{"| Key | Value |", "|---|---|", "| row_count | 2 |", "| status | ok |"}},
		{"nested cell", `[{"a": {"b": [1, 2]}}]`, []string{"| a |", "|---|", `| {"b":[1,2]} |`}},
		{"double encoded", `"[{\"a\":1}]"`, []string{"| a |", "|---|", "| 1 |"}},
		{"scalar", `42`, []string{}},
		{"empty list", `[]`, []string{}},
		{"plain text", "a | b | c\n1 | 2 | 3", []string{"a | b | c", "1 | 2 | 3"}},
		{"empty", "", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, outputPreview(tt.output))
		})
	}
}

func TestOutputPreviewCapsRows(t *testing.T) {
	items := make([]string, 12)
	for i := range items {
		items[i] = fmt.Sprintf(`{"n": %d}`, i)
	}
	got := outputPreview("[" + strings.Join(items, ",") + "]")
	require.Len(t, got, 2+maxRenderedRows)
	assert.Equal(t, "| 9 |", got[len(got)-1])
}

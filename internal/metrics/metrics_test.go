package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/fabricagent/internal/extract"
)

func TestHandlerExposesCollectors(t *testing.T) {
	ObserveAsk("cli", nil, 1500*time.Millisecond)
	ObserveAsk("", errors.New("boom"), time.Second)
	ObserveReport(&extract.Report{
		Queries:            []string{"SELECT a FROM b"},
		DataPreviews:       [][]string{{"| a |"}, {}},
		DataRetrievalQuery: "SELECT a FROM b",
	})
	ObserveReport(nil)
	ObserveScheduled(nil)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)

	out := string(body)
	assert.Contains(t, out, `fabricagent_asks_total{source="cli",status="ok"} 1`)
	assert.Contains(t, out, `fabricagent_asks_total{source="unknown",status="error"} 1`)
	assert.Contains(t, out, "fabricagent_extracted_queries_total 1")
	assert.Contains(t, out, "fabricagent_extracted_previews_total 1")
	assert.Contains(t, out, `fabricagent_retrieval_query_total{found="true"} 1`)
	assert.Contains(t, out, `fabricagent_scheduled_runs_total{status="ok"} 1`)
}

package extract

// Report summarizes what a run's tool calls queried and returned.
//
// DataPreviews holds one entry per tool call in step order, plus possibly a
// trailing entry mined from the final assistant text. DataRetrievalQueryIndex
// is 1-based into Queries and is set together with DataRetrievalQuery.
type Report struct {
	Queries                 []string   `json:"queries"`
	DataPreviews            [][]string `json:"data_previews"`
	DataRetrievalQuery      string     `json:"data_retrieval_query,omitempty"`
	DataRetrievalQueryIndex int        `json:"data_retrieval_query_index,omitempty"`
}

func newReport() *Report {
	return &Report{Queries: []string{}, DataPreviews: [][]string{}}
}

// HasRetrievalQuery reports whether a query was tied to returned data.
func (r *Report) HasRetrievalQuery() bool {
	return r.DataRetrievalQuery != ""
}

// RetrievalPreview returns the preview shown next to the retrieval query:
// the preview at the query's index when it is non-empty, otherwise the first
// non-empty preview. It returns nil when every preview is empty.
func (r *Report) RetrievalPreview() []string {
	if i := r.DataRetrievalQueryIndex; i > 0 && i <= len(r.DataPreviews) {
		if p := r.DataPreviews[i-1]; len(p) > 0 {
			return p
		}
	}
	for _, p := range r.DataPreviews {
		if len(p) > 0 {
			return p
		}
	}
	return nil
}

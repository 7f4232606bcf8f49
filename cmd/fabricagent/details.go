package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/user/fabricagent/internal/gateway"
)

// maxDetailLines caps parsed preview lines printed by ask --details.
const maxDetailLines = 10

// writeDetails prints the run analysis for ask --details.
func writeDetails(w io.Writer, res *gateway.Result) {
	fmt.Fprintf(w, "Run status:     %s\n", res.RunStatus)
	fmt.Fprintf(w, "Steps count:    %d\n", len(res.Steps))
	fmt.Fprintf(w, "Messages count: %d\n", len(res.Messages))
	writeAnalysis(w, res)
}

// writeAnalysis prints the response, the query used and its data preview.
func writeAnalysis(w io.Writer, res *gateway.Result) {
	fmt.Fprintln(w, "\nAgent response:")
	for _, line := range strings.Split(res.Response, "\n") {
		fmt.Fprintf(w, "   %s\n", line)
	}

	rep := res.Report
	switch {
	case rep != nil && rep.HasRetrievalQuery():
		fmt.Fprintln(w, "\nSQL query used:")
		fmt.Fprintf(w, "   %s\n", rep.DataRetrievalQuery)
		if preview := rep.RetrievalPreview(); len(preview) > 0 {
			writePreview(w, preview)
		} else {
			fmt.Fprintln(w, "\nNo data preview available")
		}
	case rep != nil && len(rep.Queries) > 0:
		fmt.Fprintln(w, "\nLakehouse data source detected, but could not identify the specific data retrieval query")
		fmt.Fprintln(w, "\nSQL query used:")
		fmt.Fprintf(w, "   %s\n", rep.Queries[0])
		if preview := rep.RetrievalPreview(); len(preview) > 0 {
			writePreview(w, preview)
		} else {
			fmt.Fprintln(w, "\nNo structured data preview available")
		}
	default:
		fmt.Fprintln(w, "\nNo lakehouse data source detected")
	}
}

// writePreview prints a preview. A single element holding a whole markdown
// table is printed line by line without a cap.
func writePreview(w io.Writer, preview []string) {
	fmt.Fprintln(w, "\nData preview:")
	if len(preview) == 1 && strings.Contains(preview[0], "\n") && strings.Contains(preview[0], "|") {
		for _, line := range strings.Split(preview[0], "\n") {
			if strings.TrimSpace(line) != "" {
				fmt.Fprintf(w, "   %s\n", line)
			}
		}
		return
	}
	for i, line := range preview {
		if i == maxDetailLines {
			fmt.Fprintf(w, "   ... and %d more lines\n", len(preview)-maxDetailLines)
			break
		}
		fmt.Fprintf(w, "   %s\n", line)
	}
}

// Package extract mines agent run output for SQL statements and tabular
// data previews.
//
// Every function here is best-effort and pure: inputs are already
// materialized strings and run records, nothing blocks, and nothing returns
// an error. Recall is heuristic; a string that merely looks like SQL is
// accepted.
package extract

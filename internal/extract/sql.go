package extract

import (
	"regexp"
	"strings"
)

// minStatementLen is the shortest normalized statement worth keeping.
// Anything at or below it is a fragment like "SELECT 1".
const minStatementLen = 10

// Statement heads in match order. Each is followed by a lazy body that runs
// to the first terminator.
var statementHeads = []string{
	`SELECT\s+.*?\s+FROM\s+.*?`,
	`INSERT\s+INTO\s+.*?`,
	`UPDATE\s+\S+\s+SET\s+.*?`,
	`DELETE\s+FROM\s+.*?`,
	`CREATE\s+TABLE\s+.*?`,
	`ALTER\s+TABLE\s+.*?`,
	`DROP\s+TABLE\s+.*?`,
}

var (
	// Tool call text is usually a JSON fragment, so a double quote ends
	// the statement too.
	callTemplates = compileTemplates(`[;})"]`)
	// Serialized run steps escape their quotes; only structural
	// punctuation ends a statement.
	stepTemplates = compileTemplates(`[;})]`)

	escapeReplacer = strings.NewReplacer(`\n`, "\n", `\t`, "\t", `\r`, "\r")
	// Serialized steps carry one more level of JSON string escaping.
	stepReplacer = strings.NewReplacer(`\\`, `\`, `\"`, `"`)
)

func compileTemplates(terminators string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(statementHeads))
	for _, head := range statementHeads {
		out = append(out, regexp.MustCompile(`(?is)\b(`+head+`)(?:`+terminators+`|,|$)`))
	}
	return out
}

// FindStatements returns SQL statements found in free text, such as a tool
// call's arguments or output. Statements are whitespace-normalized,
// deduplicated in first-seen order, and longer than ten characters.
func FindStatements(text string) []string {
	return findStatements(escapeReplacer.Replace(text), callTemplates, "")
}

// FindStepStatements is FindStatements for a JSON-serialized run step.
// Escaped quotes and backslashes are unescaped first. Quotes do not end a
// statement, but a statement's trailing double quotes are dropped.
func FindStepStatements(text string) []string {
	return findStatements(escapeReplacer.Replace(stepReplacer.Replace(text)), stepTemplates, `"`)
}

func findStatements(text string, templates []*regexp.Regexp, trim string) []string {
	if text == "" {
		return []string{}
	}

	var found []string
	for _, re := range templates {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			stmt := normalizeStatement(m[1])
			if trim != "" {
				stmt = strings.TrimSpace(strings.TrimRight(stmt, trim))
			}
			if len(stmt) > minStatementLen {
				found = append(found, stmt)
			}
		}
	}
	return dedupe(found)
}

// normalizeStatement collapses every whitespace run to one space.
func normalizeStatement(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// dedupe drops repeats, keeping the first occurrence of each string.
func dedupe(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

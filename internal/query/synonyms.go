package query

import "strings"

// baseSynonyms maps common query terms to document-search equivalents.
// Deliberately small and curated rather than exhaustive: the synonym
// expansion stage is meant to catch obvious vocabulary mismatches
// (install vs setup, delete vs remove), not to replace semantic search.
var baseSynonyms = map[string][]string{
	"install":      {"setup", "configure"},
	"configure":    {"setup", "configuration"},
	"delete":       {"remove", "erase"},
	"remove":       {"delete"},
	"error":        {"exception", "failure", "issue"},
	"bug":          {"issue", "defect", "error"},
	"fast":         {"performance", "speed", "latency"},
	"slow":         {"performance", "latency", "bottleneck"},
	"api":          {"endpoint", "interface"},
	"guide":        {"tutorial", "walkthrough"},
	"start":        {"begin", "launch"},
	"stop":         {"halt", "terminate", "shutdown"},
	"update":       {"upgrade", "patch"},
	"auth":         {"authentication", "authorization"},
	"permission":   {"access", "authorization"},
	"document":     {"doc", "file"},
	"search":       {"query", "find", "lookup"},
}

// tutorialIntentTerms are appended when a query is classified as
// tutorial-intent (see classifyIntent).
var tutorialIntentTerms = []string{"guide", "tutorial", "setup"}

// synonymsFor returns known synonyms for a single lowercase term.
func synonymsFor(term string) []string {
	if syns, ok := baseSynonyms[term]; ok {
		return syns
	}
	return nil
}

// classifyIntent applies deterministic heuristics to a normalized
// query and returns any intent-specific terms to append.
func classifyIntent(normalizedQuery string) []string {
	switch {
	case strings.HasPrefix(normalizedQuery, "how to "),
		strings.HasPrefix(normalizedQuery, "how do i "),
		strings.HasPrefix(normalizedQuery, "how can i "):
		return tutorialIntentTerms
	default:
		return nil
	}
}

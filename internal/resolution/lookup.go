package resolution

import "strings"

// LookupResult is the outcome of a concept lookup. Tag carries the context of
// the last !context(...) literal seen, empty when none was.
type LookupResult struct {
	Tag   string `json:"tag,omitempty"`
	Value string `json:"value"`
}

// Instruction kinds, selected by the first character inside {{ }}.
const (
	kindLookup   = '='
	kindGenerate = '*'
	kindLiteral  = '!'
)

type instruction struct {
	kind    byte
	context string
	args    string
}

// parseInstruction splits "=conn(FTP,host)" into its kind, context and raw
// arguments. The argument list ends at the last closing parenthesis.
func parseInstruction(text string) (instruction, bool) {
	if len(text) < 2 {
		return instruction{}, false
	}
	rest := text[1:]
	open := strings.Index(rest, "(")
	closeIdx := strings.LastIndex(rest, ")")
	if open < 0 || closeIdx < open {
		return instruction{}, false
	}
	return instruction{
		kind:    text[0],
		context: strings.TrimSpace(rest[:open]),
		args:    rest[open+1 : closeIdx],
	}, true
}

// splitArgs splits a comma separated argument list, trimming each entry.
func splitArgs(args string) []string {
	parts := strings.Split(args, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// unquote strips one leading and one trailing double quote.
func unquote(s string) string {
	s = strings.TrimPrefix(s, `"`)
	return strings.TrimSuffix(s, `"`)
}

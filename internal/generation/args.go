package generation

import "strings"

// splitFirst splits args at the first comma outside quotes and brackets.
// ok is false when there is no such comma.
func splitFirst(args string) (head, tail string, ok bool) {
	depth := 0
	var quote rune
	for i, r := range args {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '"' || r == '\'':
			quote = r
		case r == '(' || r == '[' || r == '{':
			depth++
		case r == ')' || r == ']' || r == '}':
			depth--
		case r == ',' && depth == 0:
			return strings.TrimSpace(args[:i]), strings.TrimSpace(args[i+1:]), true
		}
	}
	return strings.TrimSpace(args), "", false
}

// unquote strips one pair of matching surrounding quotes.
func unquote(s string) string {
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	return s
}

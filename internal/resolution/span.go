package resolution

import "strings"

// span is a delimited region of a text. start is the index of the opening
// delimiter, end the index just past the closing delimiter.
type span struct {
	start, end  int
	open, close string
}

// inner returns the text between the delimiters.
func (s span) inner(text string) string {
	return text[s.start+len(s.open) : s.end-len(s.close)]
}

// marker returns the span text including its delimiters.
func (s span) marker(text string) string {
	return text[s.start:s.end]
}

// nextSpan finds the first span opening at or after from. An opening
// delimiter with no matching close yields ok=false.
func nextSpan(text string, from int, open, close string) (span, bool) {
	if from < 0 || from >= len(text) {
		return span{}, false
	}
	i := strings.Index(text[from:], open)
	if i < 0 {
		return span{}, false
	}
	start := from + i
	body := start + len(open)
	j := strings.Index(text[body:], close)
	if j < 0 {
		return span{}, false
	}
	return span{start: start, end: body + j + len(close), open: open, close: close}, true
}

// innermostSpan finds the leftmost span that contains no nested span: it is
// closed by the first closing delimiter preceded by an opening one, and opened
// by the nearest opening delimiter before that close.
func innermostSpan(text, open, close string) (span, bool) {
	from := 0
	for from < len(text) {
		c := strings.Index(text[from:], close)
		if c < 0 {
			return span{}, false
		}
		c += from
		o := strings.LastIndex(text[:c], open)
		if o >= 0 {
			return span{start: o, end: c + len(close), open: open, close: close}, true
		}
		from = c + len(close)
	}
	return span{}, false
}

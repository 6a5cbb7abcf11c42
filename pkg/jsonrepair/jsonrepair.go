// Package jsonrepair turns a truncated JSON text into a valid document that
// keeps as much of the readable prefix as possible.
//
// Recovery is a chain of steps, each usable on its own:
//
//	ParseWhole            the text is already valid
//	ParseFirstValue       a complete value followed by garbage
//	TrimIncompleteTail    drop a dangling key, string, separator or literal
//	CloseOpenStructures   append the closers for every open object and array
//	TruncateToLastClosed  cut back to the last closed structure, then close
//
// Recover and Repair run the whole chain and never fail; the worst case is an
// empty object.
package jsonrepair

import (
	"regexp"
	"strings"

	"github.com/nmstools/nmssave/pkg/tree"
)

// Step identifies which stage of the chain produced a result.
type Step int

const (
	StepWhole Step = iota
	StepFirstValue
	StepTrimmed
	StepTruncated
	StepEmpty
)

func (s Step) String() string {
	switch s {
	case StepWhole:
		return "whole"
	case StepFirstValue:
		return "first-value"
	case StepTrimmed:
		return "trimmed"
	case StepTruncated:
		return "truncated"
	case StepEmpty:
		return "empty"
	default:
		return "unknown"
	}
}

// ParseWhole parses text as exactly one JSON value.
func ParseWhole(text string) (any, bool) {
	v, err := tree.Parse([]byte(text))
	return v, err == nil
}

// ParseFirstValue parses the first complete JSON value at the start of text
// and ignores anything after it.
func ParseFirstValue(text string) (any, bool) {
	v, _, err := tree.ParseFirst([]byte(text))
	return v, err == nil
}

// Recover returns the best-effort value for text and the step that produced it.
func Recover(text string) (any, Step) {
	if v, ok := ParseWhole(text); ok {
		return v, StepWhole
	}
	if v, ok := ParseFirstValue(text); ok {
		return v, StepFirstValue
	}

	trimmed := TrimIncompleteTail(text)
	if v, ok := ParseWhole(CloseOpenStructures(trimmed)); ok {
		return v, StepTrimmed
	}
	if v, ok := ParseWhole(TruncateToLastClosed(trimmed)); ok {
		return v, StepTruncated
	}
	return tree.NewObject(), StepEmpty
}

// Repair returns a valid JSON text for text. A text that is already valid is
// returned unchanged; otherwise the result is compact.
func Repair(text string) string {
	v, step := Recover(text)
	if step == StepWhole {
		return text
	}
	out, err := tree.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(out)
}

// scan is the string-aware structure of a JSON prefix.
type scan struct {
	stack      []byte // unclosed '{' and '['
	inString   bool
	openQuote  int // opening quote of the unterminated string
	strStart   int // opening quote of the last complete string
	strEnd     int // closing quote of the last complete string
	lastCloser int // rightmost structural '}' or ']'
}

func scanText(s string) scan {
	st := scan{openQuote: -1, strStart: -1, strEnd: -1, lastCloser: -1}
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if st.inString {
			if escaped {
				escaped = false
				continue
			}
			switch c {
			case '\\':
				escaped = true
			case '"':
				st.inString = false
				st.strStart, st.strEnd = st.openQuote, i
				st.openQuote = -1
			}
			continue
		}
		switch c {
		case '"':
			st.inString = true
			st.openQuote = i
		case '{', '[':
			st.stack = append(st.stack, c)
		case '}', ']':
			if len(st.stack) > 0 {
				st.stack = st.stack[:len(st.stack)-1]
			}
			st.lastCloser = i
		}
	}
	return st
}

func (st scan) top() byte {
	if len(st.stack) == 0 {
		return 0
	}
	return st.stack[len(st.stack)-1]
}

const space = " \t\r\n"

// prevSignificant returns the index of the last non-space byte before i, or -1.
func prevSignificant(s string, i int) int {
	for j := i - 1; j >= 0; j-- {
		if !strings.ContainsRune(space, rune(s[j])) {
			return j
		}
	}
	return -1
}

func byteAt(s string, i int) byte {
	if i < 0 {
		return 0
	}
	return s[i]
}

func isLiteralByte(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' ||
		c == '.' || c == '-' || c == '+'
}

var numberRe = regexp.MustCompile(`^-?(0|[1-9][0-9]*)(\.[0-9]+)?([eE][+-]?[0-9]+)?$`)

func completeLiteral(tok string) bool {
	switch tok {
	case "true", "false", "null":
		return true
	}
	return numberRe.MatchString(tok)
}

// TrimIncompleteTail strips incomplete constructs from the end of text until
// it ends at a point where closing the open structures gives valid JSON.
// In order of precedence it removes a dangling `"key":`, a bare `"key"` in an
// object, an unterminated string, a trailing ',' or ':', and a partial
// literal or number.
func TrimIncompleteTail(text string) string {
	s := strings.TrimRight(text, space)
	for len(s) > 0 {
		st := scanText(s)
		last := len(s) - 1

		switch {
		case st.inString:
			s = s[:st.openQuote]

		case s[last] == ':':
			p := prevSignificant(s, last)
			if p >= 0 && p == st.strEnd {
				s = s[:st.strStart]
			} else {
				s = s[:last]
			}

		case s[last] == '"' && last == st.strEnd:
			if st.top() != '{' {
				return s
			}
			before := byteAt(s, prevSignificant(s, st.strStart))
			if before != '{' && before != ',' {
				return s
			}
			s = s[:st.strStart]

		case s[last] == ',':
			s = s[:last]

		case isLiteralByte(s[last]):
			start := last
			for start > 0 && isLiteralByte(s[start-1]) {
				start--
			}
			before := byteAt(s, prevSignificant(s, start))
			inValueSlot := before == ':' ||
				st.top() == '[' && (before == '[' || before == ',') ||
				len(st.stack) == 0 && before == 0
			if inValueSlot && completeLiteral(s[start:]) {
				return s
			}
			s = s[:start]

		default:
			return s
		}
		s = strings.TrimRight(s, space)
	}
	return s
}

// CloseOpenStructures appends the closers for every structure left open in
// text, innermost first, after dropping a trailing comma. An unterminated
// string is closed first.
func CloseOpenStructures(text string) string {
	st := scanText(text)
	var b strings.Builder
	b.Grow(len(text) + len(st.stack) + 1)

	if st.inString {
		b.WriteString(text)
		if strings.HasSuffix(text, `\`) && !st.escapedEnd(text) {
			b.WriteByte('\\')
		}
		b.WriteByte('"')
	} else {
		b.WriteString(strings.TrimRight(strings.TrimRight(text, space), ","))
	}

	for i := len(st.stack) - 1; i >= 0; i-- {
		if st.stack[i] == '{' {
			b.WriteByte('}')
		} else {
			b.WriteByte(']')
		}
	}
	return b.String()
}

// escapedEnd reports whether the trailing backslashes of an unterminated
// string form complete escape pairs.
func (st scan) escapedEnd(text string) bool {
	n := 0
	for i := len(text) - 1; i > st.openQuote && text[i] == '\\'; i-- {
		n++
	}
	return n%2 == 0
}

// TruncateToLastClosed cuts text just after its rightmost structural '}' or
// ']' and closes whatever is still open. Text without one is only closed.
func TruncateToLastClosed(text string) string {
	st := scanText(text)
	if st.lastCloser >= 0 {
		text = text[:st.lastCloser+1]
	}
	return CloseOpenStructures(text)
}

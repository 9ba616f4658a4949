package dataset

import (
	"strings"

	"github.com/goccy/go-json"
)

// EncodeList renders a list column as a JSON array.
func EncodeList(items []string) string {
	if len(items) == 0 {
		return "[]"
	}
	data, err := json.Marshal(items)
	if err != nil {
		return "[]"
	}
	return string(data)
}

// DecodeList parses a list column. It accepts JSON arrays and the
// single-quoted list literals found in older exports. Anything else,
// including an empty cell, decodes to an empty list.
func DecodeList(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" || s[0] != '[' {
		return []string{}
	}

	var items []string
	if err := json.Unmarshal([]byte(s), &items); err == nil {
		return clean(items)
	}
	if items, ok := parseQuotedList(s); ok {
		return clean(items)
	}
	return []string{}
}

func clean(items []string) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		if it = strings.TrimSpace(it); it != "" {
			out = append(out, it)
		}
	}
	return out
}

// parseQuotedList reads ['a', "b", 'c\'s'] style literals.
func parseQuotedList(s string) ([]string, bool) {
	if len(s) < 2 || s[len(s)-1] != ']' {
		return nil, false
	}
	body := []rune(s[1 : len(s)-1])
	var items []string

	i := 0
	skipSpace := func() {
		for i < len(body) && (body[i] == ' ' || body[i] == '\t' || body[i] == '\n') {
			i++
		}
	}

	for {
		skipSpace()
		if i >= len(body) {
			return items, true
		}
		quote := body[i]
		if quote != '\'' && quote != '"' {
			return nil, false
		}
		i++

		var b strings.Builder
		closed := false
		for i < len(body) {
			r := body[i]
			if r == '\\' && i+1 < len(body) {
				b.WriteRune(unescape(body[i+1]))
				i += 2
				continue
			}
			if r == quote {
				closed = true
				i++
				break
			}
			b.WriteRune(r)
			i++
		}
		if !closed {
			return nil, false
		}
		items = append(items, b.String())

		skipSpace()
		if i >= len(body) {
			return items, true
		}
		if body[i] != ',' {
			return nil, false
		}
		i++
	}
}

func unescape(r rune) rune {
	switch r {
	case 'n':
		return '\n'
	case 't':
		return '\t'
	default:
		return r
	}
}

package schedule

import (
	"strconv"
	"strings"

	"gorq/internal/domain"
)

// Schedules carry human-authored argument text, e.g. `1, 2.5, 'John'`
// and `x=1, name='John'`. It is parsed at fire time into the value
// shapes the codec produces, so a worker sees the same types whether a
// task came from a schedule or a direct enqueue: numbers as float64,
// quoted text as string, true/false/null as bool/nil.

// ParseArgs parses a comma-separated positional argument list. Empty
// input yields nil.
func ParseArgs(text string) ([]any, error) {
	parts, err := splitTop(text)
	if err != nil {
		return nil, err
	}
	if len(parts) == 0 {
		return nil, nil
	}
	out := make([]any, 0, len(parts))
	for _, p := range parts {
		v, err := parseScalar(p)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// ParseKwargs parses a comma-separated `name=value` list. Empty input
// yields nil.
func ParseKwargs(text string) (map[string]any, error) {
	parts, err := splitTop(text)
	if err != nil {
		return nil, err
	}
	if len(parts) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(parts))
	for _, p := range parts {
		eq := strings.IndexByte(p, '=')
		if eq <= 0 {
			return nil, &domain.ValidationError{Field: "kwargs", Reason: "expected name=value, got " + strconv.Quote(p)}
		}
		name := strings.TrimSpace(p[:eq])
		v, err := parseScalar(p[eq+1:])
		if err != nil {
			return nil, err
		}
		out[name] = v
	}
	return out, nil
}

// splitTop splits on commas outside quotes and drops blank segments.
func splitTop(text string) ([]string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}
	var (
		parts []string
		buf   strings.Builder
		quote byte
	)
	for i := 0; i < len(text); i++ {
		c := text[i]
		switch {
		case quote != 0:
			buf.WriteByte(c)
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
			buf.WriteByte(c)
		case c == ',':
			parts = append(parts, buf.String())
			buf.Reset()
		default:
			buf.WriteByte(c)
		}
	}
	if quote != 0 {
		return nil, &domain.ValidationError{Field: "args", Reason: "unterminated quote"}
	}
	parts = append(parts, buf.String())

	out := parts[:0]
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out, nil
}

func parseScalar(text string) (any, error) {
	s := strings.TrimSpace(text)
	switch {
	case s == "":
		return nil, &domain.ValidationError{Field: "args", Reason: "empty value"}
	case s == "null" || s == "none" || s == "None":
		return nil, nil
	case s == "true" || s == "True":
		return true, nil
	case s == "false" || s == "False":
		return false, nil
	case len(s) >= 2 && (s[0] == '\'' || s[0] == '"'):
		if s[len(s)-1] != s[0] {
			return nil, &domain.ValidationError{Field: "args", Reason: "unterminated quote in " + strconv.Quote(s)}
		}
		return s[1 : len(s)-1], nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f, nil
	}
	// Bare word, treated as a string.
	return s, nil
}

package apierr

import "strings"

// EscapeValue escapes backslashes and commas so that values can be joined
// with a plain comma and split again without ambiguity.
func EscapeValue(s string) string {
	if !strings.ContainsAny(s, `\,`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 4)
	for _, r := range s {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case ',':
			b.WriteString(`\,`)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// UnescapeValue reverses EscapeValue. A trailing lone backslash is kept as-is.
func UnescapeValue(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	escaped := false
	for _, r := range s {
		if escaped {
			b.WriteRune(r)
			escaped = false
			continue
		}
		if r == '\\' {
			escaped = true
			continue
		}
		b.WriteRune(r)
	}
	if escaped {
		b.WriteRune('\\')
	}
	return b.String()
}

// JoinReference escapes every value and joins them with commas.
func JoinReference(values []string) string {
	escaped := make([]string, len(values))
	for i, v := range values {
		escaped[i] = EscapeValue(v)
	}
	return strings.Join(escaped, ",")
}

// SplitReference is the inverse of JoinReference. The empty string splits to
// an empty list, so a list holding one empty string does not round-trip.
func SplitReference(s string) []string {
	if s == "" {
		return nil
	}

	var (
		out     []string
		current strings.Builder
		escaped bool
	)
	for _, r := range s {
		switch {
		case escaped:
			current.WriteRune(r)
			escaped = false
		case r == '\\':
			escaped = true
		case r == ',':
			out = append(out, current.String())
			current.Reset()
		default:
			current.WriteRune(r)
		}
	}
	if escaped {
		current.WriteRune('\\')
	}
	return append(out, current.String())
}

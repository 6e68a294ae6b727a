// Package logparse decodes crawl server logfile lines into typed field
// maps and normalizes them into game records. The logfile format is one
// game per line: colon-separated key=value fields, with a literal colon
// inside a value escaped as "::".
package logparse

import (
	"fmt"
	"strconv"
	"strings"
)

// ErrorKind classifies parse failures.
type ErrorKind int

const (
	// MalformedField means a field had no '=' separator.
	MalformedField ErrorKind = iota
	// NullByteCorruption means the line contained a NUL byte, the usual
	// signature of a truncated or corrupt source file. The line is
	// dropped, not retried.
	NullByteCorruption
)

func (k ErrorKind) String() string {
	switch k {
	case MalformedField:
		return "malformed field"
	case NullByteCorruption:
		return "null byte corruption"
	}
	return "unknown"
}

// ParseError reports why a line could not be decoded.
type ParseError struct {
	Kind  ErrorKind
	Field string // offending field for MalformedField
}

func (e *ParseError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("logparse: %s: %q", e.Kind, e.Field)
	}
	return "logparse: " + e.Kind.String()
}

// Field is one decoded value: an int when every character of the raw
// value is a decimal digit, a string otherwise.
type Field struct {
	Str   string
	Int   int64
	IsInt bool
}

// Fields is the typed field map for one logfile line.
type Fields map[string]Field

// Has reports whether a key was present on the line.
func (f Fields) Has(key string) bool {
	_, ok := f[key]
	return ok
}

// String returns the field's string form ("" when absent). Int fields
// render back to their digits.
func (f Fields) String(key string) string {
	v, ok := f[key]
	if !ok {
		return ""
	}
	if v.IsInt {
		return strconv.FormatInt(v.Int, 10)
	}
	return v.Str
}

// IntOr returns the field as an int64, or def when absent or non-numeric.
func (f Fields) IntOr(key string, def int64) int64 {
	v, ok := f[key]
	if !ok || !v.IsInt {
		return def
	}
	return v.Int
}

// ParseLine decodes a single logfile line. Blank lines yield (nil, nil);
// blank fields are skipped silently. A nil map with a nil error means
// "nothing here", never a partial record.
func ParseLine(line string) (Fields, error) {
	if strings.IndexByte(line, 0) >= 0 {
		return nil, &ParseError{Kind: NullByteCorruption}
	}
	line = strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(line) == "" {
		return nil, nil
	}

	fields := make(Fields)
	for _, raw := range splitFields(line) {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		key, value, ok := strings.Cut(raw, "=")
		if !ok {
			return nil, &ParseError{Kind: MalformedField, Field: raw}
		}
		// Old servers occasionally wrap a field in stray whitespace.
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		// The name field can look numeric ("78291") but is always a name.
		if key != "name" && isDigits(value) {
			n, err := strconv.ParseInt(value, 10, 64)
			if err == nil {
				fields[key] = Field{Int: n, IsInt: true}
				continue
			}
		}
		fields[key] = Field{Str: Unescape(value)}
	}
	return fields, nil
}

// splitFields splits on unescaped colons. A naive strings.Split breaks
// on the "::" escape, so we scan left to right instead.
func splitFields(line string) []string {
	var out []string
	var cur strings.Builder
	for i := 0; i < len(line); i++ {
		c := line[i]
		if c != ':' {
			cur.WriteByte(c)
			continue
		}
		if i+1 < len(line) && line[i+1] == ':' {
			// Escaped colon, keep it for the value unescape pass.
			cur.WriteString("::")
			i++
			continue
		}
		out = append(out, cur.String())
		cur.Reset()
	}
	out = append(out, cur.String())
	return out
}

// Unescape undoes logfile escaping in a value.
func Unescape(v string) string {
	return strings.ReplaceAll(v, "::", ":")
}

// Escape applies logfile escaping to a value. Round-trips with
// ParseLine for any input.
func Escape(v string) string {
	return strings.ReplaceAll(v, ":", "::")
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

package coprocessor

import (
	"fmt"
	"net/http"
	"unicode/utf8"
)

// ExternalizeHeaders converts a native header container to the transportable
// multimap the envelope carries: `{ name -> [value, ...] }`, names
// lowercased and values validated as UTF-8. Multi-valued headers keep their
// original ordering.
func ExternalizeHeaders(h http.Header) (map[string][]string, error) {
	result := make(map[string][]string, len(h))
	for name, values := range h {
		lower := textLower(name)
		for _, v := range values {
			if !utf8.ValidString(v) {
				return nil, fmt.Errorf("coprocessor: header %q has a non-UTF-8 value", name)
			}
		}
		result[lower] = append(result[lower], values...)
	}
	return result, nil
}

// InternalizeHeaders converts the envelope's multimap back to a native
// header container, re-inserting every (name, value) pair in order so
// multi-valued headers survive the round trip.
func InternalizeHeaders(m map[string][]string) http.Header {
	h := make(http.Header, len(m))
	for name, values := range m {
		for _, v := range values {
			h.Add(name, v)
		}
	}
	return h
}

// textLower lowercases per HTTP header name conventions without pulling in
// strings.ToLower's full Unicode case folding, since header names are
// ASCII by construction (net/http itself enforces this on the way in).
func textLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

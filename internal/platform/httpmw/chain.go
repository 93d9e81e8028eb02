// Package httpmw holds the net/http middleware around the admin server.
package httpmw

import "net/http"

// Middleware is a standard net/http middleware signature.
type Middleware func(http.Handler) http.Handler

// Chain is an ordered list of middleware; the first element is outermost.
type Chain []Middleware

// Then applies the chain to h. Nil entries are skipped.
func (c Chain) Then(h http.Handler) http.Handler {
	for i := len(c) - 1; i >= 0; i-- {
		if c[i] == nil {
			continue
		}
		h = c[i](h)
	}
	return h
}

func quietSet(paths []string) map[string]bool {
	m := make(map[string]bool, len(paths))
	for _, p := range paths {
		m[p] = true
	}
	return m
}

package main

import (
	"encoding/json"
	"fmt"
	"io"
)

func printJSON(w io.Writer, v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	_, _ = fmt.Fprintln(w, string(b))
}

// hinter is implemented by errors that know how to recover from themselves.
type hinter interface {
	Hints() []string
}

// printError writes err and the remediation hints of every error in its
// chain that carries some.
func printError(w io.Writer, err error) {
	_, _ = fmt.Fprintln(w, "error:", err)
	seen := map[string]bool{}
	for _, h := range collectHints(err) {
		if seen[h] {
			continue
		}
		seen[h] = true
		_, _ = fmt.Fprintln(w, "hint:", h)
	}
}

func collectHints(err error) []string {
	if err == nil {
		return nil
	}
	var out []string
	if h, ok := err.(hinter); ok {
		out = append(out, h.Hints()...)
	}
	switch u := err.(type) {
	case interface{ Unwrap() []error }:
		for _, e := range u.Unwrap() {
			out = append(out, collectHints(e)...)
		}
	case interface{ Unwrap() error }:
		out = append(out, collectHints(u.Unwrap())...)
	}
	return out
}

package image

import (
	"fmt"
	"strings"
)

// Ref names a container image.
type Ref struct {
	Repository string `json:"repository"`
	Tag        string `json:"tag,omitempty"`
	Digest     string `json:"digest,omitempty"`
}

// ParseRef accepts "name", "name:tag", "host:port/name:tag" and "name@sha256:...".
// A missing tag means "latest".
func ParseRef(s string) (Ref, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Ref{}, fmt.Errorf("empty image reference")
	}
	if strings.ContainsAny(s, " \t\n") {
		return Ref{}, fmt.Errorf("invalid image reference %q", s)
	}
	var r Ref
	if name, digest, ok := strings.Cut(s, "@"); ok {
		if name == "" || digest == "" {
			return Ref{}, fmt.Errorf("invalid image reference %q", s)
		}
		r.Repository, r.Digest = name, digest
		return r, nil
	}
	slash := strings.LastIndex(s, "/")
	if colon := strings.LastIndex(s, ":"); colon > slash {
		r.Repository, r.Tag = s[:colon], s[colon+1:]
	} else {
		r.Repository, r.Tag = s, "latest"
	}
	if r.Repository == "" || r.Tag == "" {
		return Ref{}, fmt.Errorf("invalid image reference %q", s)
	}
	return r, nil
}

// ParseRefs parses every reference, failing on the first bad one.
func ParseRefs(ss []string) ([]Ref, error) {
	out := make([]Ref, 0, len(ss))
	for _, s := range ss {
		r, err := ParseRef(s)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func (r Ref) String() string {
	if r.Digest != "" {
		return r.Repository + "@" + r.Digest
	}
	if r.Tag == "" {
		return r.Repository + ":latest"
	}
	return r.Repository + ":" + r.Tag
}

// Package normalize canonicalizes IRIs so they can be used as identity
// keys: lowercase scheme/host, percent-decoded path, one trailing slash
// stripped (the root path "/" keeps it).
package normalize

import (
	"net/url"
	"strings"
)

// IRI returns the normalized form of s. Rules, applied in order: parse
// as an absolute URL (on failure, return s unchanged); lowercase scheme
// and host; percent-decode the path; strip a single trailing slash from
// the path when its length exceeds 1; preserve query and fragment
// verbatim.
func IRI(s string) string {
	u, err := url.Parse(s)
	if err != nil || !u.IsAbs() {
		return s
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	if decoded, err := url.PathUnescape(u.Path); err == nil {
		u.Path = decoded
	}

	if len(u.Path) > 1 && strings.HasSuffix(u.Path, "/") {
		u.Path = strings.TrimSuffix(u.Path, "/")
	}

	// Force re-encoding of Path rather than reusing any stale RawPath.
	u.RawPath = ""

	return u.String()
}

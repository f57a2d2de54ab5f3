package urlutil

import (
	"fmt"
	"net/url"
	"path"
	"strings"
)

// JoinPath joins path segments onto base, collapsing duplicate slashes.
// A trailing slash on the last segment is kept.
func JoinPath(base string, paths ...string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}

	allPaths := append([]string{u.Path}, paths...)
	u.Path = path.Join(allPaths...)

	if len(paths) > 0 && strings.HasSuffix(paths[len(paths)-1], "/") {
		u.Path += "/"
	}

	return u.String(), nil
}

// ParseAbsolute parses raw and requires a scheme. Custom schemes used by
// native clients have no host and are accepted.
func ParseAbsolute(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if !u.IsAbs() {
		return nil, fmt.Errorf("not an absolute URL: %q", raw)
	}
	return u, nil
}

// WithQuery returns u with params appended to its query. The existing raw
// query is kept as written. Empty values are skipped so optional parameters
// can be passed unconditionally.
func WithQuery(u *url.URL, params url.Values) string {
	extra := url.Values{}
	for k, vs := range params {
		for _, v := range vs {
			if v != "" {
				extra.Add(k, v)
			}
		}
	}

	out := *u
	if encoded := extra.Encode(); encoded != "" {
		if out.RawQuery != "" {
			out.RawQuery += "&" + encoded
		} else {
			out.RawQuery = encoded
		}
	}
	return out.String()
}

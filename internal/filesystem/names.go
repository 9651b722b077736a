package filesystem

import (
	"net/url"
	"path"
	"strings"
)

// FallbackFileName is used when no candidate yields a usable name.
const FallbackFileName = "downloaded_file"

const maxNameLength = 100

// ResolveFileName picks the download file name from, in priority order:
// the caller-supplied name, the server-suggested name (Content-Disposition),
// the last path segment of the URL, and finally FallbackFileName. The
// winning candidate is sanitized.
func ResolveFileName(callerName, serverName, rawURL string) string {
	for _, candidate := range []string{callerName, serverName, urlBaseName(rawURL)} {
		if s := SanitizeFileName(candidate); s != "" {
			return s
		}
	}
	return FallbackFileName
}

func urlBaseName(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	base := path.Base(u.Path)
	if base == "." || base == "/" {
		return ""
	}
	if unescaped, err := url.QueryUnescape(base); err == nil {
		base = unescaped
	}
	return base
}

// SanitizeFileName replaces every character outside [A-Za-z0-9._-] with an
// underscore and caps the result at 100 characters, preserving the final
// extension when truncating. Returns "" for an empty or dot-only candidate.
func SanitizeFileName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' || r == '_' || r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	name = b.String()
	if strings.Trim(name, ".") == "" {
		// path.Base artifacts like "." and ".." are not names.
		return ""
	}

	if len(name) <= maxNameLength {
		return name
	}

	ext := path.Ext(name)
	if len(ext) >= maxNameLength {
		return name[:maxNameLength]
	}
	base := name[:len(name)-len(ext)]
	return base[:maxNameLength-len(ext)] + ext
}

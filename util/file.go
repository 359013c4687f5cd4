package util

import (
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	maxFilenameBytes = 255
	UnnamedFilename  = "[unnamed]"
)

// SanitizeFilename reduces a user supplied filename to a harmless label: base
// name only, no separators or control characters, no leading dots.
func SanitizeFilename(filename string) string {
	// browsers on windows send full paths
	filename = strings.ReplaceAll(filename, "\\", "/")
	filename = filepath.Base(filename)

	var b strings.Builder
	for _, r := range filename {
		if r == utf8.RuneError || r == '/' || unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
	}
	cleaned := strings.TrimLeft(strings.TrimSpace(b.String()), ".")

	for len(cleaned) > maxFilenameBytes {
		_, size := utf8.DecodeLastRuneInString(cleaned)
		cleaned = cleaned[:len(cleaned)-size]
	}
	if cleaned == "" {
		return UnnamedFilename
	}
	return cleaned
}

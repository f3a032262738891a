package media

import (
	"path"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

const maxNameBytes = 200

// SanitizeName reduces a user or platform supplied name to a single safe path
// element. Directory components (for either separator), control characters
// and leading dots are dropped. It returns "" when nothing usable remains.
func SanitizeName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	if idx := strings.LastIndexByte(name, '/'); idx >= 0 {
		name = name[idx+1:]
	}
	name = strings.Map(func(r rune) rune {
		if r == utf8.RuneError || unicode.IsControl(r) {
			return -1
		}
		switch r {
		case ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, name)
	name = strings.TrimSpace(name)
	name = strings.TrimLeft(name, ".")
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	return truncateName(name, maxNameBytes)
}

// truncateName caps name at limit bytes on a rune boundary, keeping a short extension.
func truncateName(name string, limit int) string {
	if len(name) <= limit {
		return name
	}
	ext := path.Ext(name)
	if len(ext) > 16 {
		ext = ""
	}
	stem := name[:len(name)-len(ext)]
	cut := limit - len(ext)
	for cut > 0 && !utf8.RuneStart(stem[cut]) {
		cut--
	}
	return stem[:cut] + ext
}

// DeriveName picks the destination file name: the sanitized suggestion, else
// the sanitized canonical id, else fallback.
func DeriveName(suggested, canonicalID, fallback string) string {
	if name := SanitizeName(suggested); name != "" {
		return name
	}
	if name := SanitizeName(canonicalID); name != "" {
		return name
	}
	return fallback
}

// CandidateName returns the n-th collision alternative of name:
// "clip.mp4", "clip (1).mp4", "clip (2).mp4", ...
func CandidateName(name string, n int) string {
	if n <= 0 {
		return name
	}
	ext := path.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	if stem == "" {
		stem, ext = name, ""
	}
	return stem + " (" + strconv.Itoa(n) + ")" + ext
}

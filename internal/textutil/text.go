// Package textutil formats record values for fixed-width terminal listings.
package textutil

import (
	"html"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	tagRe   = regexp.MustCompile(`<[^>]*>`)
	spaceRe = regexp.MustCompile(`\s+`)
)

// Cut shortens s to keep runes plus "..." when it is longer than max runes.
func Cut(s string, max, keep int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return Prefix(s, keep) + "..."
}

// Prefix returns at most n runes of s.
func Prefix(s string, n int) string {
	if n <= 0 {
		return ""
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

// YesNo renders a boolean for humans.
func YesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}

// CleanHTML drops tags, decodes entities and collapses whitespace.
func CleanHTML(s string) string {
	s = tagRe.ReplaceAllString(s, "")
	s = html.UnescapeString(s)
	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}

// Wrap breaks s at spaces so lines stay within width runes, joining lines
// with brk. Words longer than width are left whole.
func Wrap(s string, width int, brk string) string {
	words := strings.Split(s, " ")
	var lines []string
	cur := ""
	for _, w := range words {
		switch {
		case cur == "":
			cur = w
		case utf8.RuneCountInString(cur)+1+utf8.RuneCountInString(w) <= width:
			cur += " " + w
		default:
			lines = append(lines, cur)
			cur = w
		}
	}
	lines = append(lines, cur)
	return strings.Join(lines, brk)
}

// Description prepares long free text for detail views: cleaned, cut to 500
// runes and wrapped at 90 with a one-space indent.
func Description(s string) string {
	clean := Cut(CleanHTML(s), 500, 497)
	return " " + Wrap(clean, 90, "\n ")
}

package service

import (
	"html"
	"regexp"
	"strings"
	"unicode/utf8"
)

const maxAnswerLength = 5000

var htmlTagPattern = regexp.MustCompile(`<[^>]*>`)

// sanitizeAnswer trims, strips markup and caps free-text answers before storage
func sanitizeAnswer(s string) string {
	s = html.UnescapeString(s)
	s = htmlTagPattern.ReplaceAllString(s, "")
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) > maxAnswerLength {
		s = string([]rune(s)[:maxAnswerLength])
	}
	return s
}

// Package textnorm cleans case narratives and search queries before they are embedded.
//
// Ingestion and query paths must share Normalize: any divergence between how a
// stored narrative and an incoming query are cleaned shows up as silently worse
// retrieval, never as an error.
package textnorm

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxRunes bounds the normalized text length, and with it the embedding request payload.
const MaxRunes = 4000

// Pre-compiled patterns, applied in order.
var (
	scriptBlocks = regexp.MustCompile(`(?is)<(script|style)[^>]*>.*?</(script|style)\s*>`)
	htmlComments = regexp.MustCompile(`(?s)<!--.*?-->`)
	markupTags   = regexp.MustCompile(`</?[a-zA-Z][^<>]*>`)

	// Greeting and sign-off boilerplate common in case notes and e-mail threads.
	boilerplate = []*regexp.Regexp{
		regexp.MustCompile(`(?i)^(hi|hello|hey|dear|greetings|good (morning|afternoon|evening))\b[^,.!:\n]{0,40}[,.!:]`),
		regexp.MustCompile(`(?i)-{2,}\s*original message\s*-{2,}`),
		regexp.MustCompile(`(?i)\bsent from my (iphone|ipad|android|mobile device|phone)\b`),
		regexp.MustCompile(`(?i)\b(please )?(do not hesitate to|feel free to|let me know if you) (contact us|reach out|have any (further |other )?questions)\b[.!]?`),
		regexp.MustCompile(`(?i)\b(thanks and regards|thanks & regards|best regards|kind regards|warm regards|many thanks|regards|sincerely|cheers|thank you|thanks)[,.!]*\s*$`),
	}
)

var entities = strings.NewReplacer(
	"&nbsp;", " ",
	"&amp;", "&",
	"&lt;", " ",
	"&gt;", " ",
	"&quot;", `"`,
	"&#39;", "'",
)

// Normalize returns the canonical form of text used as embedding input.
//
// It strips markup and boilerplate, collapses whitespace, and truncates to
// MaxRunes on a word boundary. It is total and idempotent:
// Normalize(Normalize(s)) == Normalize(s).
func Normalize(text string) string {
	if !utf8.ValidString(text) {
		text = strings.ToValidUTF8(text, " ")
	}
	for {
		next := truncate(clean(text), MaxRunes)
		if next == text {
			return next
		}
		text = next
	}
}

// clean runs one cleaning pass. Every step only removes or replaces text with
// something no longer, so repeated passes converge.
func clean(s string) string {
	s = scriptBlocks.ReplaceAllString(s, " ")
	s = htmlComments.ReplaceAllString(s, " ")
	s = markupTags.ReplaceAllString(s, " ")
	// Entities for angle brackets decode to spaces so they cannot rebuild a tag.
	s = entities.Replace(s)
	s = collapse(s)
	for _, re := range boilerplate {
		s = re.ReplaceAllString(s, " ")
	}
	return collapse(s)
}

// collapse replaces every whitespace run with a single space and trims the ends.
func collapse(s string) string {
	return strings.Join(strings.FieldsFunc(s, isSpace), " ")
}

func isSpace(r rune) bool {
	return unicode.IsSpace(r) || r == '\u200b' || r == '\ufeff'
}

// truncate cuts s to at most limit runes, preferring the last word boundary so
// no token is split. A single token longer than limit is cut on a rune boundary.
func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	cut := 0
	for i := range s {
		if limit == 0 {
			cut = i
			break
		}
		limit--
	}
	head := s[:cut]
	if s[cut] == ' ' {
		return strings.TrimSpace(head)
	}
	if sp := strings.LastIndexByte(head, ' '); sp > 0 {
		return strings.TrimSpace(head[:sp])
	}
	return head
}

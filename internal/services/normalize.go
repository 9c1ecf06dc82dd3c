package services

import (
	"strings"
	"sync"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// splitCardSeparator joins the faces of split, adventure and modal double-faced cards
const splitCardSeparator = "//"

// letters without a Unicode decomposition that still need an ASCII form
var letterFolds = map[rune]string{
	'Æ': "ae", 'æ': "ae",
	'Œ': "oe", 'œ': "oe",
	'Ø': "o", 'ø': "o",
	'ß': "ss",
	'Đ': "d", 'đ': "d",
	'Ł': "l", 'ł': "l",
	'Þ': "th", 'þ': "th",
}

// NormalizeCardName canonicalizes a raw card name into the key used to join datasets.
// The retailer and Scryfall disagree on split-card naming, quoting, accents and case;
// names that normalize equal are treated as the same card.
//
// Rules, in order: keep only the first face of a split card, drop bracketed
// qualifiers, accents and punctuation, collapse whitespace, lowercase.
func NormalizeCardName(raw string) string {
	name := raw
	if idx := strings.Index(name, splitCardSeparator); idx >= 0 {
		name = name[:idx]
	}

	name = stripBracketed(name)
	name = foldDiacritics(name)

	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r == '-' || r == '_' || r == '/' || unicode.IsSpace(r):
			b.WriteRune(' ')
		case letterFolds[r] != "":
			b.WriteString(letterFolds[r])
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		}
	}

	canonical := strings.ToLower(strings.Join(strings.Fields(b.String()), " "))
	if canonical == "" {
		// Nothing survived the rules; fall back to the trimmed lowercase input
		return strings.ToLower(strings.Join(strings.Fields(raw), " "))
	}
	return canonical
}

// stripBracketed removes "( ... )" and "[ ... ]" segments such as "(Enkeltkort)" or "[Foil]"
func stripBracketed(s string) string {
	if !strings.ContainsAny(s, "([") {
		return s
	}
	var b strings.Builder
	depth := 0
	for _, r := range s {
		switch r {
		case '(', '[':
			depth++
			b.WriteRune(' ')
		case ')', ']':
			if depth > 0 {
				depth--
			}
			b.WriteRune(' ')
		default:
			if depth == 0 {
				b.WriteRune(r)
			}
		}
	}
	return b.String()
}

func foldDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// NameCache memoizes NormalizeCardName for the lifetime of one acquisition run.
// Create one per run and drop it afterwards; it never evicts.
type NameCache struct {
	mu    sync.Mutex
	names map[string]string
}

// NewNameCache creates an empty cache
func NewNameCache() *NameCache {
	return &NameCache{names: make(map[string]string)}
}

// Normalize returns the canonical name for raw, computing it at most once per cache
func (c *NameCache) Normalize(raw string) string {
	if c == nil {
		return NormalizeCardName(raw)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if canonical, ok := c.names[raw]; ok {
		return canonical
	}
	canonical := NormalizeCardName(raw)
	c.names[raw] = canonical
	return canonical
}

// Len returns the number of distinct raw names seen
func (c *NameCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.names)
}

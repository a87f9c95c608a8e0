// Package titles turns raw catalog titles into comparable forms.
package titles

import (
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"golang.org/x/text/cases"
)

// Normalize case-folds s, drops every rune that is neither an ASCII word
// character nor whitespace, collapses whitespace and trims. It is
// idempotent.
func Normalize(s string) string {
	if s == "" {
		return ""
	}
	folded := cases.Fold().String(s)

	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		switch {
		case r < unicode.MaxASCII && (r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// Words splits the normalized form of s.
func Words(s string) []string {
	return strings.Fields(Normalize(s))
}

// Similarity is the word-overlap score 2·|A∩B| / (|A|+|B|) over the
// normalized words of a and b. Equal normalized titles score 1.
func Similarity(a, b string) float64 {
	na, nb := Normalize(a), Normalize(b)
	if na == "" || nb == "" {
		return 0
	}
	if na == nb {
		return 1
	}
	wa, wb := strings.Fields(na), strings.Fields(nb)
	inB := make(map[string]struct{}, len(wb))
	for _, w := range wb {
		inB[w] = struct{}{}
	}
	common := 0
	seen := make(map[string]struct{}, len(wa))
	for _, w := range wa {
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		if _, ok := inB[w]; ok {
			common++
		}
	}
	return float64(common*2) / float64(len(wa)+len(wb))
}

var (
	bracketYear  = regexp.MustCompile(`[\(\[](\d{4})[\)\]]`)
	parenYear    = regexp.MustCompile(`\((\d{4})\)`)
	yearInParens = regexp.MustCompile(`\([^)]*\d{4}[^)]*\)`)
	yearInSquare = regexp.MustCompile(`\[[^\]]*\d{4}[^\]]*\]`)
)

// ExtractYear finds a four digit year in parentheses or brackets, e.g.
// "Hunter x Hunter (2011)". Years outside (1950, current year] yield 0.
func ExtractYear(s string) int {
	m := bracketYear.FindStringSubmatch(s)
	if m == nil {
		return 0
	}
	y, err := strconv.Atoi(m[1])
	if err != nil || y <= 1950 || y > time.Now().Year() {
		return 0
	}
	return y
}

// ParenYear returns the raw "(YYYY)" year of s, or "".
func ParenYear(s string) string {
	if m := parenYear.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return ""
}

// StripYear removes parenthesized or bracketed groups that contain a year.
func StripYear(s string) string {
	s = yearInParens.ReplaceAllString(s, "")
	s = yearInSquare.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

var replacements = map[string][]string{
	"season":   {"s", "sz"},
	"s":        {"season", "sz"},
	"sz":       {"season", "s"},
	"two":      {"2", "ii"},
	"three":    {"3", "iii"},
	"four":     {"4", "iv"},
	"part":     {"pt", "p"},
	"episode":  {"ep"},
	"chapters": {"ch"},
	"chapter":  {"ch"},
	"first":    {"1", "i"},
	"second":   {"2", "ii"},
	"third":    {"3", "iii"},
	"fourth":   {"4", "iv"},
}

// synonymIndex maps a normalized word to every table entry it takes part
// in. Built once, read-only afterwards.
var synonymIndex = func() map[string][]string {
	idx := make(map[string][]string)
	for key, values := range replacements {
		idx[key] = append(idx[key], values...)
		for _, v := range values {
			idx[v] = append(idx[v], key)
			idx[v] = append(idx[v], values...)
		}
	}
	return idx
}()

var variationMemo sync.Map // string -> []string

var digits = regexp.MustCompile(`\d+`)

// Variations expands word into the forms it may take in a title: the word,
// its normalized form, the word without digits, and synonym-table entries
// ("season" ↔ "s", "second" ↔ "2" ↔ "ii"). The result is shared and must
// not be modified.
func Variations(word string) []string {
	if v, ok := variationMemo.Load(word); ok {
		return v.([]string)
	}

	set := make(map[string]struct{}, 8)
	out := make([]string, 0, 8)
	add := func(s string) {
		if s == "" {
			return
		}
		if _, ok := set[s]; ok {
			return
		}
		set[s] = struct{}{}
		out = append(out, s)
	}

	add(word)
	normalized := Normalize(word)
	add(normalized)
	if stripped := strings.TrimSpace(digits.ReplaceAllString(word, "")); stripped != word {
		add(stripped)
	}
	for _, s := range synonymIndex[normalized] {
		add(s)
	}

	v, _ := variationMemo.LoadOrStore(word, out)
	return v.([]string)
}

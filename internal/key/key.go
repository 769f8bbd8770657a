// Package key splits fact text into delimiter-aware chunks and derives the
// alternate keys a fact is indexed under.
package key

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Delimiters separate tokens. A chunk is a token followed by its delimiter run.
const Delimiters = ",;' .!"

// IsDelimiter reports whether r is one of Delimiters.
func IsDelimiter(r rune) bool {
	return strings.ContainsRune(Delimiters, r)
}

func isDelimiterByte(c byte) bool {
	return strings.IndexByte(Delimiters, c) >= 0
}

// Next returns the first token at or after byte offset from, skipping any
// leading delimiters. It returns "" when no token remains.
func Next(text string, from int) string {
	if from < 0 {
		from = 0
	}
	j := from
	for j < len(text) && isDelimiterByte(text[j]) {
		j++
	}
	k := j
	for k < len(text) && !isDelimiterByte(text[k]) {
		k++
	}
	if j >= len(text) {
		return ""
	}
	return text[j:k]
}

// Strip removes leading and trailing delimiters.
func Strip(chunk string) string {
	return strings.Trim(chunk, Delimiters)
}

// Tokenize splits text into chunks, each ending right after a delimiter run.
// A double quote toggles quoting, inside which delimiters are ordinary
// characters; a doubled quote is a literal quote and does not toggle.
func Tokenize(text string) []string {
	rs := []rune(text)

	var (
		chunks []string
		buf    strings.Builder
		quoted bool
	)

	flush := func() {
		if buf.Len() > 0 {
			chunks = append(chunks, buf.String())
			buf.Reset()
		}
	}

	for i := 0; i < len(rs); i++ {
		switch {
		case !quoted && IsDelimiter(rs[i]):
			for i < len(rs) && IsDelimiter(rs[i]) {
				buf.WriteRune(rs[i])
				i++
			}
			flush()
			if i < len(rs) {
				i--
			}
		case rs[i] == '"' && (i == len(rs)-1 || rs[i+1] != '"'):
			quoted = !quoted
		case rs[i] == '"':
			buf.WriteRune('"')
			i++
		default:
			buf.WriteRune(rs[i])
		}

		if i == len(rs)-1 {
			flush()
		}
	}

	return chunks
}

// Variants returns the sorted set of alternate keys for text:
// every chunk prefix (the full text only if includeFull), every suffix
// starting after the first chunk, and every chunk followed by a contiguous
// tail that starts at least two chunks later.
func Variants(text string, includeFull bool) []string {
	cs := Tokenize(text)
	n := len(cs)
	set := make(map[string]struct{})

	for i := 0; i < n; i++ {
		var b strings.Builder
		for j := i; j < n; j++ {
			b.WriteString(cs[j])
			if i == 0 && (includeFull || j < n-1) {
				set[b.String()] = struct{}{}
			}
		}
		if i > 0 && i < n-1 {
			set[b.String()] = struct{}{}
		}
	}

	for i := 0; i < n; i++ {
		for j := i + 2; j < n; j++ {
			set[cs[i]+strings.Join(cs[j:], "")] = struct{}{}
		}
	}

	res := make([]string, 0, len(set))
	for k := range set {
		res = append(res, k)
	}
	sort.Strings(res)
	return res
}

// Score is the symmetric overlap of a and b: the number of stripped variants
// of a found in b plus the number of stripped variants of b found in a.
func Score(a, b string) int {
	return overlap(a, b) + overlap(b, a)
}

func overlap(a, b string) int {
	n := 0
	for _, v := range Variants(a, true) {
		if strings.Contains(b, Strip(v)) {
			n++
		}
	}
	return n
}

// CompareFold orders a and b ignoring case.
func CompareFold(a, b string) int {
	for a != "" && b != "" {
		ra, na := utf8.DecodeRuneInString(a)
		rb, nb := utf8.DecodeRuneInString(b)
		if ra != rb {
			fa, fb := fold(ra), fold(rb)
			if fa < fb {
				return -1
			}
			if fa > fb {
				return 1
			}
		}
		a, b = a[na:], b[nb:]
	}
	switch {
	case a == "" && b == "":
		return 0
	case a == "":
		return -1
	default:
		return 1
	}
}

// EqualFold reports whether a and b are equal ignoring case.
func EqualFold(a, b string) bool {
	return CompareFold(a, b) == 0
}

// Fold maps s to a form in which strings equal under EqualFold are
// byte-identical.
func Fold(s string) string {
	return strings.Map(fold, s)
}

// Edge normalizes a rune into the trie edge it travels along.
func Edge(r rune) rune {
	return unicode.ToLower(r)
}

func fold(r rune) rune {
	return unicode.ToLower(unicode.ToUpper(r))
}

package recognition

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// glyphCorrections maps code points recognizers commonly emit in place of
// the canonical Arabic letter or Western digit.
var glyphCorrections = map[rune]string{
	// Persian and Urdu letter variants
	'ی': "ي", // farsi yeh
	'ې': "ي",
	'ک': "ك", // keheh
	'ڪ': "ك",
	'ە': "ه", // ae
	'ہ': "ه", // heh goal
	'ھ': "ه", // heh doachashmee
	'ۃ': "ة",
	'ٱ': "ا", // alef wasla
	'ٲ': "ا",
	'ٳ': "ا",

	// Extended Arabic-Indic digits
	'۰': "0", '۱': "1", '۲': "2", '۳': "3", '۴': "4",
	'۵': "5", '۶': "6", '۷': "7", '۸': "8", '۹': "9",
	'٫': ".", // arabic decimal separator
	'٬': ",", // arabic thousands separator

	// Invisible joiners and direction marks
	'\u200c': "",
	'\u200d': "",
	'\u200e': "",
	'\u200f': "",
	'\u061c': "",
	'\ufeff': "",
}

// arabicContextCorrections applies only between two Arabic letters, where a
// Latin glyph is almost certainly a misread.
var arabicContextCorrections = map[rune]string{
	'c': "س",
	'C': "س",
	'o': "ه",
	'O': "ه",
	'0': "ه",
	'l': "ا",
	'I': "ا",
}

var (
	reInlineSpace = regexp.MustCompile(`[^\S\n]+`)
	reMultiBlank  = regexp.MustCompile(`\n{3,}`)
)

func isPresentationForm(r rune) bool {
	return (r >= 0xFB50 && r <= 0xFDFF) || (r >= 0xFE70 && r <= 0xFEFF)
}

func isArabicLetter(r rune) bool {
	return unicode.Is(unicode.Arabic, r) && unicode.IsLetter(r)
}

// Correct maps glyph confusions to canonical forms, folds Arabic
// presentation forms and ligatures to their base letters and collapses
// repeated whitespace. Line breaks are kept.
func Correct(text string) string {
	if text == "" {
		return text
	}
	text = strings.ReplaceAll(text, "\r\n", "\n")
	runes := []rune(text)

	var b strings.Builder
	b.Grow(len(text))
	for i, r := range runes {
		if rep, ok := glyphCorrections[r]; ok {
			b.WriteString(rep)
			continue
		}
		if isPresentationForm(r) {
			b.WriteString(norm.NFKC.String(string(r)))
			continue
		}
		if rep, ok := arabicContextCorrections[r]; ok &&
			i > 0 && i < len(runes)-1 &&
			isArabicLetter(foldRune(runes[i-1])) && isArabicLetter(foldRune(runes[i+1])) {
			b.WriteString(rep)
			continue
		}
		b.WriteRune(r)
	}

	out := reInlineSpace.ReplaceAllString(b.String(), " ")
	lines := strings.Split(out, "\n")
	for i := range lines {
		lines[i] = strings.TrimSpace(lines[i])
	}
	out = reMultiBlank.ReplaceAllString(strings.Join(lines, "\n"), "\n\n")
	return strings.TrimSpace(out)
}

// foldRune returns the base letter of a presentation form, or r itself.
func foldRune(r rune) rune {
	if !isPresentationForm(r) {
		return r
	}
	for _, f := range norm.NFKC.String(string(r)) {
		return f
	}
	return r
}

package extract

import (
	"strings"
	"unicode"
)

const (
	minLineRunes       = 2
	minValidRatio      = 0.4
	shortLineRunes     = 4
	arabicLineRunes    = 5
	minLatinTokenRunes = 3
)

func isASCIIAlnum(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

func isArabic(r rune) bool {
	return unicode.Is(unicode.Arabic, r)
}

func isValidRune(r rune) bool {
	return isASCIIAlnum(r) || isArabic(r) || unicode.IsDigit(r)
}

// FilterNoise splits text into trimmed lines and drops those that carry no
// recognizable text. In lines that are mostly Arabic, short Latin or numeric
// tokens are removed as stray glyphs.
func FilterNoise(text string) []string {
	var kept []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line = cleanLine(line); line != "" {
			kept = append(kept, line)
		}
	}
	return kept
}

func cleanLine(line string) string {
	runes := []rune(line)
	if len(runes) < minLineRunes {
		return ""
	}

	var valid, arabic int
	hasDigit := false
	for _, r := range runes {
		if isValidRune(r) {
			valid++
		}
		if isArabic(r) && unicode.IsLetter(r) {
			arabic++
		}
		if unicode.IsDigit(r) {
			hasDigit = true
		}
	}
	// whitespace counts toward the length but not as signal
	if float64(valid)/float64(len(runes)) < minValidRatio {
		return ""
	}
	if len(runes) < shortLineRunes && !hasDigit {
		return ""
	}

	if arabic > arabicLineRunes {
		line = dropStrayTokens(line)
	}
	return line
}

func dropStrayTokens(line string) string {
	fields := strings.Fields(line)
	kept := fields[:0]
	for _, f := range fields {
		if isLatinToken(f) && len([]rune(f)) < minLatinTokenRunes {
			continue
		}
		kept = append(kept, f)
	}
	return strings.Join(kept, " ")
}

// isLatinToken reports whether s holds an ASCII letter or digit and no
// Arabic. Pure punctuation is not a token.
func isLatinToken(s string) bool {
	alnum := false
	for _, r := range s {
		if isArabic(r) {
			return false
		}
		if isASCIIAlnum(r) {
			alnum = true
		}
	}
	return alnum
}

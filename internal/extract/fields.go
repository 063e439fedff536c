package extract

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"
)

const (
	nationalIDLength = 14
	trafficUnitLabel = "وحدة مرور"
	minLabelledName  = 3
	minNameLineRunes = 10
	minNameWords     = 3
	maxNameWords     = 6
	minSerialLength  = 5
	vinLength        = 17
)

// Keyword sets are written in normalized form: after Normalize, "وحدة"
// reads "وحده" and "إدارة" reads "اداره".
var (
	trafficUnitKeywords = []string{"وحده مرور", "قسم مرور", "اداره مرور", "وحده", "قسم", "اداره", "مرور"}
	ownerNameKeywords   = []string{"اسم المالك", "الاسم", "المالك", "اسم"}
	modelKeywords       = []string{"الموديل", "موديل", "الطراز", "طراز", "model"}
	chassisKeywords     = []string{"رقم الشاسيه", "الشاسيه", "شاسيه", "شاسي", "chassis", "vin"}
	motorKeywords       = []string{"رقم الموتور", "الموتور", "موتور", "المحرك", "محرك", "motor", "engine"}

	// lines containing these are document structure, not a person's name
	nameBlacklist = []string{
		"وحده", "قسم", "اداره", "مرور", "بطاقه", "رقم", "قومي", "جمهوريه", "محافظه",
		"شاسيه", "شاسي", "موتور", "محرك", "موديل", "طراز", "ترخيص", "تاريخ",
	}
)

var (
	reNationalID = regexp.MustCompile(`\b[23](?:[ \t]*\d){13,19}`)
	reVIN        = regexp.MustCompile(`\b[A-HJ-NPR-Z0-9]{17}\b`)
	reAmount     = regexp.MustCompile(`\b\d{1,3}(?:,\d{3})*\.\d{2}\b`)
	reDate       = regexp.MustCompile(`\b\d{1,2}/\d{1,2}/\d{4}\b|\b\d{1,2}-\d{1,2}-\d{4}\b`)
	reDigitRun   = regexp.MustCompile(`\d{5,}`)
	reSpaces     = regexp.MustCompile(`\s+`)

	reTrafficUnit = keywordLine(trafficUnitKeywords)
	reOwnerName   = keywordLine(ownerNameKeywords)
	reModel       = keywordLine(modelKeywords)
	reChassis     = keywordSerial(chassisKeywords)
	reMotor       = keywordSerial(motorKeywords)

	reNotText      = regexp.MustCompile(`[^0-9A-Za-z\p{Arabic}\s]+`)
	reNotModelText = regexp.MustCompile(`[^0-9A-Za-z\p{Arabic}\s-]+`)
)

// keywordLine matches one of keywords and captures the rest of its line.
// Longer keywords are tried first.
func keywordLine(keywords []string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)(?:` + alternation(keywords) + `)[ \t]*[:：\-]?[ \t]*([^\n]+)`)
}

// keywordSerial matches one of keywords followed by a run of letters and
// digits that may contain spaces.
func keywordSerial(keywords []string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)(?:` + alternation(keywords) + `)[^0-9A-Za-z\n]*([0-9A-Za-z](?:[0-9A-Za-z ]*[0-9A-Za-z])?)`)
}

func alternation(keywords []string) string {
	sorted := append([]string(nil), keywords...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return utf8.RuneCountInString(sorted[i]) > utf8.RuneCountInString(sorted[j])
	})
	quoted := make([]string, len(sorted))
	for i, k := range sorted {
		quoted[i] = regexp.QuoteMeta(Normalize(k))
		// \b only understands ASCII word characters
		if isLatinToken(k) {
			quoted[i] = `\b` + quoted[i] + `\b`
		}
	}
	return strings.Join(quoted, "|")
}

func stripSymbols(s string) string {
	return collapse(reNotText.ReplaceAllString(s, " "))
}

func collapse(s string) string {
	return strings.TrimSpace(reSpaces.ReplaceAllString(s, " "))
}

// NationalID returns the first 14-digit national number starting with 2 or
// 3. Spaces between digits are ignored; longer runs are truncated. A run
// that starts at the year of a date is skipped.
func NationalID(text string) string {
	for pos := 0; pos < len(text); {
		loc := reNationalID.FindStringIndex(text[pos:])
		if loc == nil {
			return ""
		}
		start, end := pos+loc[0], pos+loc[1]
		if followsDatePart(text, start) {
			pos = start + leadingDigits(text[start:])
			continue
		}
		digits := strings.NewReplacer(" ", "", "\t", "").Replace(text[start:end])
		return digits[:nationalIDLength]
	}
	return ""
}

// followsDatePart reports whether text[i] comes right after "<digit>/" or
// "<digit>-".
func followsDatePart(text string, i int) bool {
	if i < 2 || (text[i-1] != '/' && text[i-1] != '-') {
		return false
	}
	return text[i-2] >= '0' && text[i-2] <= '9'
}

func leadingDigits(s string) int {
	n := 0
	for n < len(s) && s[n] >= '0' && s[n] <= '9' {
		n++
	}
	return n
}

// TrafficUnit returns the issuing traffic unit, prefixed with its label.
func TrafficUnit(text string) string {
	m := reTrafficUnit.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	unit := stripSymbols(m[1])
	if unit == "" {
		return ""
	}
	return trafficUnitLabel + " " + unit
}

// OwnerName looks for a labelled name first and falls back to the first
// line of lines that reads like a three to six word Arabic name.
func OwnerName(text string, lines []string) string {
	if m := reOwnerName.FindStringSubmatch(text); m != nil {
		if name := stripSymbols(m[1]); utf8.RuneCountInString(name) > minLabelledName {
			return name
		}
	}

	for _, line := range lines {
		if name := nameCandidate(line); name != "" {
			return name
		}
	}
	return ""
}

func nameCandidate(line string) string {
	if utf8.RuneCountInString(line) <= minNameLineRunes {
		return ""
	}
	if !strings.ContainsFunc(line, isArabic) {
		return ""
	}
	for _, k := range nameBlacklist {
		if strings.Contains(line, k) {
			return ""
		}
	}
	if reDigitRun.MatchString(line) {
		return ""
	}

	name := stripSymbols(line)
	if n := len(strings.Fields(name)); n < minNameWords || n > maxNameWords {
		return ""
	}
	return name
}

// VehicleModel returns the text following a model keyword.
func VehicleModel(text string) string {
	m := reModel.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return collapse(reNotModelText.ReplaceAllString(m[1], " "))
}

// ChassisNumber prefers a labelled chassis number and falls back to the
// first bare 17 character VIN.
func ChassisNumber(text string) string {
	if serial := labelledSerial(reChassis, text, vinLength); serial != "" {
		return serial
	}
	return reVIN.FindString(text)
}

// MotorNumber returns the serial following a motor keyword.
func MotorNumber(text string) string {
	return labelledSerial(reMotor, text, 0)
}

// labelledSerial joins the space-separated pieces of the serial after a
// keyword. With maxLen > 0 it stops before a piece that would take the
// serial past maxLen, so trailing tokens such as a year stay out.
func labelledSerial(re *regexp.Regexp, text string, maxLen int) string {
	m := re.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	var serial string
	for i, piece := range strings.Fields(m[1]) {
		if i > 0 && maxLen > 0 && len(serial)+len(piece) > maxLen {
			break
		}
		serial += piece
	}
	serial = strings.ToUpper(serial)
	if len(serial) < minSerialLength {
		return ""
	}
	return serial
}

// Amounts returns every thousands-grouped amount with two decimals.
func Amounts(text string) []float64 {
	var amounts []float64
	for _, m := range reAmount.FindAllString(text, -1) {
		v, err := strconv.ParseFloat(strings.ReplaceAll(m, ",", ""), 64)
		if err != nil {
			continue
		}
		amounts = append(amounts, v)
	}
	return amounts
}

// Dates returns every DD/MM/YYYY or DD-MM-YYYY date in order of appearance.
func Dates(text string) []string {
	return reDate.FindAllString(text, -1)
}

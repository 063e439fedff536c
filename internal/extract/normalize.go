package extract

import "strings"

// normalizer is built once. Every replacement maps a single rune to a rune
// that is never itself a key, which makes Normalize idempotent.
var normalizer = strings.NewReplacer(
	// OCR glitch symbols and vertical bars
	"|", "", "¦", "", "‖", "", "~", "", "^", "", "*", "",
	"•", "", "§", "", "¤", "", "®", "", "©", "",

	// Arabic-Indic digits
	"٠", "0", "١", "1", "٢", "2", "٣", "3", "٤", "4",
	"٥", "5", "٦", "6", "٧", "7", "٨", "8", "٩", "9",
	// Extended Arabic-Indic digits
	"۰", "0", "۱", "1", "۲", "2", "۳", "3", "۴", "4",
	"۵", "5", "۶", "6", "۷", "7", "۸", "8", "۹", "9",

	// tatweel
	"ـ", "",

	// alef with hamza above, hamza below and madda
	"أ", "ا", "إ", "ا", "آ", "ا",
	// teh marbuta
	"ة", "ه",
	// alef maksura
	"ى", "ي",
)

// Normalize strips glitch symbols, maps Arabic-Indic digits to ASCII and
// unifies the Arabic letter shapes recognizers confuse.
func Normalize(text string) string {
	return normalizer.Replace(text)
}

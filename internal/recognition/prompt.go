package recognition

import (
	"fmt"
	"strings"
)

// transcribePrompt is shared by the vision-model engines. It asks for a
// verbatim transcription so that field extraction stays on our side.
const transcribePrompt = `You are an OCR engine. The image is a preprocessed, black-on-white scan of an identity card, vehicle licence or insurance document written in %s.

Transcribe every line of text exactly as printed:
- Keep the original line order and line breaks
- Keep numbers exactly as printed, digit by digit
- Do not translate, summarize, correct or explain anything
- Do not add decorative symbols, markdown or code blocks

Return only the transcribed text.`

// TranscriptionPrompt returns the prompt for a script hint such as "ara+eng".
func TranscriptionPrompt(script string) string {
	return fmt.Sprintf(transcribePrompt, ScriptDescription(script))
}

// ScriptDescription turns a Tesseract-style language list into words.
func ScriptDescription(script string) string {
	switch script {
	case "", "ara+eng", "eng+ara":
		return "Arabic with some English (Latin) text"
	case "ara":
		return "Arabic"
	case "eng":
		return "English"
	default:
		return script
	}
}

// StripFences removes a surrounding markdown code block.
func StripFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	if nl := strings.IndexByte(text, '\n'); nl >= 0 && !strings.ContainsAny(text[:nl], " \t") {
		// language tag line
		text = text[nl+1:]
	}
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}

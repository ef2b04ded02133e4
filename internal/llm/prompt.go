package llm

import "strings"

// markerRule is shared by both modes: the renderer splits output on these markers.
const markerRule = "The text may contain page markers of the form [Page N]. " +
	"Copy every marker verbatim, unmodified, on its own line, in the same position. " +
	"Do not translate, renumber, merge or drop them."

// SystemPrompt returns the fixed system instruction for a mode.
func SystemPrompt(mode Mode) string {
	switch mode {
	case ModeTransliterate:
		return strings.Join([]string{
			"You transliterate Arabic text into Latin script.",
			"Render the pronunciation phonetically; do not translate.",
			"Mark long vowels with macrons (ā, ī, ū).",
			"Mark emphatic consonants with a dot below (ṣ, ḍ, ṭ, ẓ, ḥ).",
			"Write the definite article as al-; never write 'l- (replace any 'l- with al-).",
			"Keep line breaks and paragraph structure.",
			markerRule,
			"Return only the transliterated text.",
		}, " ")
	default:
		return strings.Join([]string{
			"You translate Arabic text into English.",
			"Translate literally and completely; do not summarize, explain or add content.",
			"Keep line breaks and paragraph structure.",
			markerRule,
			"Return only the translated text.",
		}, " ")
	}
}

// OCRPrompt is the instruction sent with every page image to a vision model.
const OCRPrompt = "Extract all Arabic text from this image verbatim, in reading order. " +
	"Preserve line breaks. Do not translate, transliterate, correct or comment. " +
	"Return only the extracted text."

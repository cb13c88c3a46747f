package turncontext

import (
	"strconv"
	"unicode/utf16"
)

// Character budgets for content placed into the router context.
const (
	DocumentBudget = 12000 // extracted document text and parse output
	VisionBudget   = 4000  // vision and OCR output
)

// Truncate caps text at budget characters, counted as UTF-16 code units.
// When text is longer, the kept prefix is followed by "[TRUNCATED:<k>]"
// where k is the number of units removed. A surrogate pair is never split:
// when the budget ends inside one, the whole character is dropped.
func Truncate(text string, budget int) string {
	if budget < 0 {
		budget = 0
	}

	n := unitLen(text)
	if n <= budget {
		return text
	}

	cut, kept := 0, 0
	for i, r := range text {
		w := utf16.RuneLen(r)
		if kept+w > budget {
			cut = i
			break
		}
		kept += w
	}

	return text[:cut] + "[TRUNCATED:" + strconv.Itoa(n-kept) + "]"
}

func unitLen(text string) int {
	n := 0
	for _, r := range text {
		n += utf16.RuneLen(r)
	}
	return n
}

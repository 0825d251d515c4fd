package protocol

import "github.com/agnivade/levenshtein"

// maxSuggestionDistance bounds how far a typo may be from a real command
// before no suggestion is offered.
const maxSuggestionDistance = 3

// SuggestCommand returns the closest known command within edit distance 3 of
// the input, preferring the smallest distance and breaking ties
// alphabetically (Commands() is sorted).
func SuggestCommand(input string) (string, bool) {
	best := ""
	bestDistance := maxSuggestionDistance + 1
	for _, cmd := range Commands() {
		d := levenshtein.ComputeDistance(input, cmd)
		if d < bestDistance {
			best = cmd
			bestDistance = d
		}
	}
	if bestDistance > maxSuggestionDistance {
		return "", false
	}
	return best, true
}

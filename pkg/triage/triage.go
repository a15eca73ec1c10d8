// Package triage scores free-text SOS descriptions.
//
// The score is a 1..10 hint for dispatchers ordering their queue. It never
// changes a case's severity, which SOS intake always sets to critical.
package triage

import "strings"

const (
	MinScore = 1
	MaxScore = 10

	criticalWeight = 5
	highWeight     = 2
)

var (
	criticalKeywords = []string{"chest pain", "unconscious", "bleeding", "stroke", "heart attack"}
	highKeywords     = []string{"broken", "fever", "burn", "breathing"}
)

// Score returns the keyword score of a description, clamped to [MinScore, MaxScore].
func Score(description string) int {
	text := strings.ToLower(description)

	score := 0
	for _, kw := range criticalKeywords {
		if strings.Contains(text, kw) {
			score += criticalWeight
		}
	}
	for _, kw := range highKeywords {
		if strings.Contains(text, kw) {
			score += highWeight
		}
	}

	return min(MaxScore, max(MinScore, score))
}

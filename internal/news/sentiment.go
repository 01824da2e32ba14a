package news

import (
	"math"
	"strings"
)

const (
	// Neutral is the score reported when no keyword matched.
	Neutral = 0.5

	StronglyNegative = 0.3
	StronglyPositive = 0.7
)

var (
	positiveKeywords = []string{"bullish", "growth", "beats expectations", "record", "upgrade", "surge"}
	negativeKeywords = []string{"bearish", "miss", "crash", "lawsuit", "bankruptcy", "downgrade"}
)

// ScoreTexts maps headlines onto [0,1]. Every keyword occurring in a text
// counts once for that text; 0 is all negative, 1 all positive.
func ScoreTexts(texts []string) float64 {
	var score, total int
	for _, text := range texts {
		lower := strings.ToLower(text)
		for _, kw := range positiveKeywords {
			if strings.Contains(lower, kw) {
				score++
				total++
			}
		}
		for _, kw := range negativeKeywords {
			if strings.Contains(lower, kw) {
				score--
				total++
			}
		}
	}
	if total == 0 {
		return Neutral
	}
	raw := (float64(score)/float64(total) + 1) / 2
	return math.Round(raw*100) / 100
}

// Label names the band a score falls into.
func Label(score float64) string {
	switch {
	case score < StronglyNegative:
		return "NEGATIVE"
	case score > StronglyPositive:
		return "POSITIVE"
	default:
		return "NEUTRAL"
	}
}

// Classify tags a single headline by its first matching keyword, positive
// keywords taking precedence.
func Classify(text string) string {
	lower := strings.ToLower(text)
	for _, kw := range positiveKeywords {
		if strings.Contains(lower, kw) {
			return "bullish"
		}
	}
	for _, kw := range negativeKeywords {
		if strings.Contains(lower, kw) {
			return "bearish"
		}
	}
	return "neutral"
}

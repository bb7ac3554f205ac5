// Package analysis scores message sentiment and extracts topics with fixed
// keyword lists. The lists and arithmetic are part of the stored data's
// meaning: changing them changes historical insight numbers.
package analysis

import (
	"strings"
	"unicode"
)

// Sentiment labels.
const (
	Positive = "positive"
	Neutral  = "neutral"
	Negative = "negative"
)

var positiveWords = set(
	"good", "great", "excellent", "amazing", "wonderful", "fantastic", "awesome",
	"happy", "love", "like", "thanks", "thank", "perfect", "helpful", "nice",
	"glad", "appreciate", "best", "brilliant", "enjoy",
)

var negativeWords = set(
	"bad", "terrible", "awful", "horrible", "hate", "sad", "angry", "annoyed",
	"frustrated", "wrong", "problem", "issue", "error", "fail", "failed",
	"broken", "worst", "poor", "disappointed", "confused",
)

// Topic is a named keyword group.
type Topic struct {
	Name     string
	Keywords []string
}

// Topics are checked in this order.
var Topics = []Topic{
	{Name: "technology", Keywords: []string{"tech", "technology", "software", "computer", "code", "coding", "programming", "app", "ai"}},
	{Name: "health", Keywords: []string{"health", "exercise", "fitness", "diet", "sleep", "doctor", "workout"}},
	{Name: "work", Keywords: []string{"work", "job", "meeting", "project", "deadline", "office", "career"}},
	{Name: "finance", Keywords: []string{"money", "budget", "invest", "investment", "bank", "finance", "savings", "stock"}},
	{Name: "travel", Keywords: []string{"travel", "trip", "flight", "hotel", "vacation", "destination"}},
	{Name: "food", Keywords: []string{"food", "recipe", "cook", "cooking", "restaurant", "dinner", "lunch", "breakfast"}},
	{Name: "entertainment", Keywords: []string{"movie", "music", "game", "show", "book", "film", "song"}},
	{Name: "education", Keywords: []string{"learn", "learning", "study", "course", "school", "university", "class"}},
	{Name: "weather", Keywords: []string{"weather", "rain", "sunny", "temperature", "forecast"}},
	{Name: "family", Keywords: []string{"family", "kids", "children", "parent", "mom", "dad", "wife", "husband"}},
}

func set(words ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}

// Words splits text into lower-case words of letters, digits and apostrophes.
func Words(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}

// Score is the sentiment of one message.
type Score struct {
	Positives int
	Negatives int
}

// Value is positives minus negatives.
func (s Score) Value() int { return s.Positives - s.Negatives }

// Label classifies the score.
func (s Score) Label() string {
	switch v := s.Value(); {
	case v > 0:
		return Positive
	case v < 0:
		return Negative
	default:
		return Neutral
	}
}

// Sentiment counts positive and negative keywords in text.
func Sentiment(text string) Score {
	var s Score
	for _, w := range Words(text) {
		if _, ok := positiveWords[w]; ok {
			s.Positives++
		}
		if _, ok := negativeWords[w]; ok {
			s.Negatives++
		}
	}
	return s
}

// ExtractTopics returns the names of topics with at least one keyword in text,
// in Topics order. A keyword also matches its plural with a trailing "s".
func ExtractTopics(text string) []string {
	words := map[string]struct{}{}
	for _, w := range Words(text) {
		words[w] = struct{}{}
	}
	var out []string
	for _, t := range Topics {
		for _, kw := range t.Keywords {
			_, exact := words[kw]
			_, plural := words[kw+"s"]
			if exact || plural {
				out = append(out, t.Name)
				break
			}
		}
	}
	return out
}

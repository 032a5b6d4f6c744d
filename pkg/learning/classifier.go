// Package learning turns raw conversation turns into durable memory. The
// classifier labels each user message; the pipeline routes it through
// history and, when it carries lasting signal, into semantic memory.
package learning

import (
	"regexp"
	"strings"
)

// Label categorizes a user message.
type Label string

const (
	LabelFact             Label = "fact"
	LabelCorrection       Label = "correction"
	LabelPreference       Label = "preference"
	LabelFeedbackPositive Label = "feedback_positive"
	LabelFeedbackNegative Label = "feedback_negative"
	LabelNeutral          Label = "neutral"
)

// Classification is the classifier's verdict on one message. For
// corrections, OldValue/NewValue hold the replaced and replacing values when
// the phrasing exposes them.
type Classification struct {
	Label    Label  `json:"label"`
	OldValue string `json:"old_value,omitempty"`
	NewValue string `json:"new_value,omitempty"`
}

// Durable reports whether the label warrants a semantic memory write.
func (c Classification) Durable() bool {
	switch c.Label {
	case LabelFact, LabelCorrection, LabelPreference:
		return true
	}
	return false
}

var (
	// "actually it's X not Y", "no, my name is X", "that's wrong, ..."
	correctionCues = regexp.MustCompile(`(?i)^\s*(actually|no[,.!\s]|that'?s (wrong|incorrect|not right)|correction[:,\s]|i misspoke|wait[,\s]|not\b.*\bbut\b)`)

	// "X, not Y" and "not Y, X" expose old and new values directly.
	notPattern     = regexp.MustCompile(`(?i)\bis\s+(.+?),?\s+not\s+(.+?)[.!?]*\s*$`)
	iMeantPattern  = regexp.MustCompile(`(?i)\bi meant\s+(.+?)[.!?]*\s*$`)
	itsPattern     = regexp.MustCompile(`(?i)\bit'?s\s+(.+?),?\s+not\s+(.+?)[.!?]*\s*$`)
	changedPattern = regexp.MustCompile(`(?i)\b(?:changed|moved|switched)\s+(?:from\s+(.+?)\s+)?to\s+(.+?)[.!?]*\s*$`)

	preferenceCues = regexp.MustCompile(`(?i)\bi (prefer|like|love|hate|dislike|always want|never want|usually)\b|\bplease (always|never)\b|\bmy preference\b|\bmy favou?rite\b`)

	// Subjects may span several words ("my favorite color is", "my home town is").
	factCues = regexp.MustCompile(`(?i)\bmy [\w ]{1,40} is\b|\bi am\b|\bi'm\b|\bi work\b|\bi live\b|\bi use\b|\bi have\b|\bwe use\b|\bour [\w ]{1,40} is\b|\bis called\b|\bremember\b`)

	positiveCues = regexp.MustCompile(`(?i)^\s*(thanks|thank you|perfect|great|exactly|awesome|that worked|nice|yes[,.!\s]*that)`)
	negativeCues = regexp.MustCompile(`(?i)^\s*(that didn'?t work|that'?s not what|useless|this is (wrong|broken)|bad answer|not helpful)`)
)

// Classifier labels user messages with lightweight lexical heuristics.
type Classifier struct{}

// NewClassifier creates a Classifier.
func NewClassifier() *Classifier {
	return &Classifier{}
}

// Classify labels one user message. Corrections are checked before facts
// because every correction phrasing also looks like a fact.
func (c *Classifier) Classify(text string) Classification {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Classification{Label: LabelNeutral}
	}

	if correctionCues.MatchString(trimmed) || itsPattern.MatchString(trimmed) ||
		notPattern.MatchString(trimmed) || iMeantPattern.MatchString(trimmed) ||
		changedPattern.MatchString(trimmed) {
		cls := Classification{Label: LabelCorrection}
		cls.OldValue, cls.NewValue = extractValues(trimmed)
		return cls
	}

	if negativeCues.MatchString(trimmed) {
		return Classification{Label: LabelFeedbackNegative}
	}
	if positiveCues.MatchString(trimmed) {
		return Classification{Label: LabelFeedbackPositive}
	}
	if preferenceCues.MatchString(trimmed) {
		return Classification{Label: LabelPreference}
	}
	if factCues.MatchString(trimmed) {
		return Classification{Label: LabelFact}
	}
	return Classification{Label: LabelNeutral}
}

// extractValues pulls (old, new) out of correction phrasings that name both
// sides. Either side may come back empty.
func extractValues(text string) (oldValue, newValue string) {
	if m := notPattern.FindStringSubmatch(text); m != nil {
		return cleanValue(m[2]), cleanValue(m[1])
	}
	if m := itsPattern.FindStringSubmatch(text); m != nil {
		return cleanValue(m[2]), cleanValue(m[1])
	}
	if m := changedPattern.FindStringSubmatch(text); m != nil {
		return cleanValue(m[1]), cleanValue(m[2])
	}
	if m := iMeantPattern.FindStringSubmatch(text); m != nil {
		return "", cleanValue(m[1])
	}
	return "", ""
}

func cleanValue(v string) string {
	return strings.Trim(strings.TrimSpace(v), `"'`)
}

// containsFold is a case-insensitive substring check.
func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

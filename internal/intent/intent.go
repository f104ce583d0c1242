// Package intent flags booking-affecting user goals with fixed keyword
// lists, before any model call.
package intent

import "strings"

// Intent is a discrete user goal detected from raw text.
type Intent string

const (
	Cancel     Intent = "cancel"
	Reschedule Intent = "reschedule"
)

var cancelKeywords = []string{
	"cancel",
	"cancell",
	"call off",
	"delete my appointment",
}

var rescheduleKeywords = []string{
	"reschedule",
	"move",
	"change the time",
	"change the date",
	"make it earlier",
	"make it later",
}

var (
	affirmative = map[string]bool{"yes": true, "y": true, "confirm": true, "ok": true, "okay": true}
	negative    = map[string]bool{"no": true, "n": true}
)

// Set is the collection of intents found in one turn. Several may fire.
type Set struct {
	Cancel     bool
	Reschedule bool
}

// Has reports whether i is in the set.
func (s Set) Has(i Intent) bool {
	switch i {
	case Cancel:
		return s.Cancel
	case Reschedule:
		return s.Reschedule
	}
	return false
}

// Intents lists the detected intents in a stable order.
func (s Set) Intents() []Intent {
	var out []Intent
	if s.Cancel {
		out = append(out, Cancel)
	}
	if s.Reschedule {
		out = append(out, Reschedule)
	}
	return out
}

// Classify runs case-insensitive substring matching against the keyword lists.
func Classify(text string) Set {
	t := strings.ToLower(text)
	return Set{
		Cancel:     containsAny(t, cancelKeywords),
		Reschedule: containsAny(t, rescheduleKeywords),
	}
}

// IsAffirmative reports whether text is exactly a yes token.
func IsAffirmative(text string) bool {
	return affirmative[normalize(text)]
}

// IsNegative reports whether text is exactly a no token.
func IsNegative(text string) bool {
	return negative[normalize(text)]
}

func normalize(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}

package intent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		text string
		want Set
	}{
		{"My name is Alex", Set{}},
		{"cancel my appointment", Set{Cancel: true}},
		{"Please CANCEL it", Set{Cancel: true}},
		{"I want it cancelled", Set{Cancel: true}},
		{"let's call off the visit", Set{Cancel: true}},
		{"delete my appointment", Set{Cancel: true}},
		{"please reschedule to Friday 5pm", Set{Reschedule: true}},
		{"can we move it?", Set{Reschedule: true}},
		{"Change the time please", Set{Reschedule: true}},
		{"change the date", Set{Reschedule: true}},
		{"make it earlier", Set{Reschedule: true}},
		{"make it later", Set{Reschedule: true}},
		{"cancel or reschedule, not sure", Set{Cancel: true, Reschedule: true}},
		{"", Set{}},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.text))
		})
	}
}

func TestClassifySubstringQuirk(t *testing.T) {
	// keywords match inside words: "remove" contains "move"
	assert.True(t, Classify("remove the note").Reschedule)
}

func TestSetHelpers(t *testing.T) {
	s := Set{Cancel: true, Reschedule: true}
	assert.True(t, s.Has(Cancel))
	assert.True(t, s.Has(Reschedule))
	assert.False(t, s.Has(Intent("book")))
	assert.Equal(t, []Intent{Cancel, Reschedule}, s.Intents())
	assert.Empty(t, Set{}.Intents())
}

func TestAffirmativeNegative(t *testing.T) {
	for _, yes := range []string{"yes", "Y", " confirm ", "OK", "okay"} {
		assert.True(t, IsAffirmative(yes), yes)
		assert.False(t, IsNegative(yes), yes)
	}
	for _, no := range []string{"no", "N", " No "} {
		assert.True(t, IsNegative(no), no)
		assert.False(t, IsAffirmative(no), no)
	}
	for _, other := range []string{"yes please", "nope", "sure", ""} {
		assert.False(t, IsAffirmative(other), other)
		assert.False(t, IsNegative(other), other)
	}
}

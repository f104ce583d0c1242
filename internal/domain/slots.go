package domain

import (
	"fmt"
	"strings"
)

// SlotState is the partially collected booking triple.
type SlotState struct {
	Name string `json:"name,omitempty"`
	Date string `json:"date,omitempty"`
	Time string `json:"time,omitempty"`
}

// Extraction is a partial slot update proposed by the model. Nil fields
// were not mentioned.
type Extraction struct {
	Name *string `json:"name"`
	Date *string `json:"date"`
	Time *string `json:"time"`
}

// Empty reports whether the extraction carries no usable value.
func (e Extraction) Empty() bool {
	return blank(e.Name) && blank(e.Date) && blank(e.Time)
}

// Merge applies e to s. A field is only replaced by a non-blank value, so a
// filled slot never regresses to empty.
func (s SlotState) Merge(e Extraction) SlotState {
	if !blank(e.Name) {
		s.Name = strings.TrimSpace(*e.Name)
	}
	if !blank(e.Date) {
		s.Date = strings.TrimSpace(*e.Date)
	}
	if !blank(e.Time) {
		s.Time = strings.TrimSpace(*e.Time)
	}
	return s
}

// Complete reports whether all three slots are filled.
func (s SlotState) Complete() bool {
	return s.Name != "" && s.Date != "" && s.Time != ""
}

// HasDateTime reports whether both date and time are filled.
func (s SlotState) HasDateTime() bool {
	return s.Date != "" && s.Time != ""
}

// String renders the snapshot passed to the model.
func (s SlotState) String() string {
	return fmt.Sprintf("{name: %s, date: %s, time: %s}", orNull(s.Name), orNull(s.Date), orNull(s.Time))
}

func blank(p *string) bool {
	return p == nil || strings.TrimSpace(*p) == ""
}

func orNull(s string) string {
	if s == "" {
		return "null"
	}
	return s
}

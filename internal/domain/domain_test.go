package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func str(s string) *string { return &s }

func TestSlotMerge(t *testing.T) {
	tests := []struct {
		name  string
		start SlotState
		ext   Extraction
		want  SlotState
	}{
		{
			name: "fills empty slots",
			ext:  Extraction{Name: str("Alex"), Date: str("tomorrow")},
			want: SlotState{Name: "Alex", Date: "tomorrow"},
		},
		{
			name:  "nil never clears",
			start: SlotState{Name: "Alex", Date: "tomorrow", Time: "3pm"},
			ext:   Extraction{},
			want:  SlotState{Name: "Alex", Date: "tomorrow", Time: "3pm"},
		},
		{
			name:  "blank never clears",
			start: SlotState{Name: "Alex"},
			ext:   Extraction{Name: str("   "), Time: str("")},
			want:  SlotState{Name: "Alex"},
		},
		{
			name:  "non-blank overwrites",
			start: SlotState{Date: "tomorrow", Time: "3pm"},
			ext:   Extraction{Date: str(" Friday "), Time: str("5pm")},
			want:  SlotState{Date: "Friday", Time: "5pm"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.start.Merge(tt.ext))
		})
	}
}

func TestSlotMergeMonotonicOverSequence(t *testing.T) {
	seq := []Extraction{
		{Name: str("Alex")},
		{Name: nil, Date: str("tomorrow")},
		{Name: str(""), Date: str(" "), Time: str("3pm")},
		{},
		{Time: str("4pm")},
	}

	var s SlotState
	for _, e := range seq {
		prev := s
		s = s.Merge(e)
		if prev.Name != "" {
			assert.NotEmpty(t, s.Name)
		}
		if prev.Date != "" {
			assert.NotEmpty(t, s.Date)
		}
		if prev.Time != "" {
			assert.NotEmpty(t, s.Time)
		}
	}
	assert.Equal(t, SlotState{Name: "Alex", Date: "tomorrow", Time: "4pm"}, s)
}

func TestSlotComplete(t *testing.T) {
	assert.False(t, SlotState{}.Complete())
	assert.False(t, SlotState{Name: "A", Date: "d"}.Complete())
	assert.True(t, SlotState{Name: "A", Date: "d", Time: "t"}.Complete())
	assert.True(t, SlotState{Date: "d", Time: "t"}.HasDateTime())
}

func TestSlotString(t *testing.T) {
	assert.Equal(t, "{name: Alex, date: null, time: null}", SlotState{Name: "Alex"}.String())
}

func TestExtractionEmpty(t *testing.T) {
	assert.True(t, Extraction{}.Empty())
	assert.True(t, Extraction{Name: str(" ")}.Empty())
	assert.False(t, Extraction{Time: str("3pm")}.Empty())
}

func TestNewBookingValidate(t *testing.T) {
	ok := BookingFromSlots("conv-1", SlotState{Name: "Alex", Date: "tomorrow", Time: "3pm"})
	require.NoError(t, ok.Validate())

	err := NewBooking{ConversationID: "conv-1", Name: "Alex"}.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "date")
	assert.Contains(t, err.Error(), "time")
}

func TestRoleValid(t *testing.T) {
	assert.True(t, RoleUser.Valid())
	assert.True(t, RoleAssistant.Valid())
	assert.False(t, Role("system").Valid())
}

func TestNewConversationID(t *testing.T) {
	a, b := NewConversationID(), NewConversationID()
	assert.Len(t, a, 36)
	assert.NotEqual(t, a, b)
}

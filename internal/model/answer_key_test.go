package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAnswerKeyShapes(t *testing.T) {
	tests := []struct {
		raw  string
		want AnswerKey
	}{
		{"42", ScalarKey(42)},
		{" 7 ", ScalarKey(7)},
		{"med_999_field_1", TabularKey(999, 1)},
		{"12_3", AnswerKey{Kind: KeyTabular, EntityID: 12, FieldID: 3, Shorthand: true}},
	}

	for _, tt := range tests {
		got, err := ParseAnswerKey(tt.raw)
		require.NoError(t, err, tt.raw)
		assert.Equal(t, tt.want, got, tt.raw)
	}
}

func TestParseAnswerKeyRejectsUnknownShapes(t *testing.T) {
	for _, raw := range []string{"", "abc", "med_1", "med_x_field_2", "1_2_3", "0", "-4", "med_1_field_", "+5", "007", "0x1f", "99999999999999999999"} {
		_, err := ParseAnswerKey(raw)
		assert.ErrorIs(t, err, ErrInvalidAnswerKey, raw)
	}
}

func TestAnswerKeyStringPreservesWireShape(t *testing.T) {
	for _, raw := range []string{"15", "med_4_field_9", "4_9"} {
		key, err := ParseAnswerKey(raw)
		require.NoError(t, err)
		assert.Equal(t, raw, key.String())
	}
}

func TestAnswerKeyCanonicalMergesSpellings(t *testing.T) {
	short, err := ParseAnswerKey("3_7")
	require.NoError(t, err)
	long, err := ParseAnswerKey("med_3_field_7")
	require.NoError(t, err)

	assert.NotEqual(t, short, long)
	assert.Equal(t, long, short.Canonical())
	assert.Equal(t, "med_3_field_7", short.Canonical().String())
	assert.Equal(t, "3_7", short.String())
}

func TestPeriodBefore(t *testing.T) {
	assert.True(t, Period{Year: 2024, Month: 3}.Before(Period{Year: 2024, Month: 4}))
	assert.True(t, Period{Year: 2023, Month: 12}.Before(Period{Year: 2024, Month: 1}))
	assert.False(t, Period{Year: 2024, Month: 4}.Before(Period{Year: 2024, Month: 4}))
	assert.False(t, Period{Year: 2025, Month: 1}.Before(Period{Year: 2024, Month: 12}))
}

func TestTerminalStatuses(t *testing.T) {
	for _, s := range ResumableStatuses {
		assert.False(t, s.IsTerminal(), s)
	}
	for _, s := range []ResponseStatus{StatusCompleted, StatusSubmitted, StatusEnded} {
		assert.True(t, s.IsTerminal(), s)
	}
}

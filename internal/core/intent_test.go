package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsAffirmative(t *testing.T) {
	tests := []struct {
		reply     string
		substring bool
		word      bool
	}{
		{"yes please", true, true},
		{"Yes", true, true},
		{"sure, send it", true, true},
		{"please do it", true, true},
		{"okay", true, false},
		{"no thanks", false, false},
		{"yes but not now", false, false},
		{"don't send it", false, false},
		{"don’t send it", false, false},
		{"hmm", false, false},
		{"I know, yes", false, true},
		{"nothing else", false, false},
		{"that would be great", true, true},
	}
	for _, tt := range tests {
		t.Run(tt.reply, func(t *testing.T) {
			assert.Equal(t, tt.substring, IsAffirmative(tt.reply, MatchSubstring), "substring")
			assert.Equal(t, tt.word, IsAffirmative(tt.reply, MatchWord), "word")
		})
	}
}

func TestParseMatchMode(t *testing.T) {
	mode, err := ParseMatchMode("")
	require.NoError(t, err)
	assert.Equal(t, MatchSubstring, mode)

	mode, err = ParseMatchMode(" WORD ")
	require.NoError(t, err)
	assert.Equal(t, MatchWord, mode)

	_, err = ParseMatchMode("regex")
	assert.Error(t, err)
}

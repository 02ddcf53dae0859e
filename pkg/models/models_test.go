package models

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTitleFromMessage(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"short stays intact", "Tell me about yourself", "Tell me about yourself"},
		{"empty stays empty", "", ""},
		{"exactly at limit", strings.Repeat("a", TitleRuneLimit), strings.Repeat("a", TitleRuneLimit)},
		{"over limit truncated", strings.Repeat("a", TitleRuneLimit+1), strings.Repeat("a", TitleRuneLimit) + "..."},
		{"multibyte counted as runes", strings.Repeat("日", TitleRuneLimit+5), strings.Repeat("日", TitleRuneLimit) + "..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TitleFromMessage(tt.text))
		})
	}
}

func TestParseSender(t *testing.T) {
	for _, valid := range []string{"user", "bot"} {
		got, err := ParseSender(valid)
		assert.NoError(t, err)
		assert.Equal(t, Sender(valid), got)
	}

	_, err := ParseSender("system")
	assert.Error(t, err)
	_, err = ParseSender("")
	assert.Error(t, err)
}

func TestMessageLocal(t *testing.T) {
	assert.True(t, Message{ID: LocalIDPrefix + "123"}.Local())
	assert.False(t, Message{ID: "abc-123"}.Local())
	assert.False(t, Message{}.Local())
}

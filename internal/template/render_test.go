package template

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceremoniacircle/myxelium-backend-sub000/internal/apperrors"
	"github.com/ceremoniacircle/myxelium-backend-sub000/internal/model"
)

func TestSubstitute(t *testing.T) {
	testCases := []struct {
		name   string
		body   string
		tokens Tokens
		want   string
	}{
		{
			name:   "single token",
			body:   "Hi {{first_name}}!",
			tokens: Tokens{"first_name": "Ada"},
			want:   "Hi Ada!",
		},
		{
			name:   "repeated token",
			body:   "{{x}} and {{x}}",
			tokens: Tokens{"x": "again"},
			want:   "again and again",
		},
		{
			name:   "absent key becomes empty",
			body:   "Hi {{first_name}}, see you at {{event_title}}",
			tokens: Tokens{"event_title": "Demo Day"},
			want:   "Hi , see you at Demo Day",
		},
		{
			name:   "nil value becomes empty",
			body:   "Join: {{join_url}}",
			tokens: Tokens{"join_url": nil},
			want:   "Join: ",
		},
		{
			name:   "non-string values are stringified",
			body:   "Seats left: {{seats}}",
			tokens: Tokens{"seats": 3},
			want:   "Seats left: 3",
		},
		{
			name:   "whitespace inside braces tolerated",
			body:   "Hi {{ first_name }}",
			tokens: Tokens{"first_name": "Ada"},
			want:   "Hi Ada",
		},
		{
			name:   "no tokens passes through",
			body:   "plain text",
			tokens: nil,
			want:   "plain text",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, substitute(tc.body, tc.tokens))
		})
	}
}

func TestTruncateSMS(t *testing.T) {
	t.Run("long body is cut to exactly max with ellipsis", func(t *testing.T) {
		got := TruncateSMS(strings.Repeat("A", 200), 160)
		assert.Len(t, got, 160)
		assert.True(t, strings.HasSuffix(got, "..."))
	})

	t.Run("body at the limit is unchanged", func(t *testing.T) {
		s := strings.Repeat("B", 160)
		assert.Equal(t, s, TruncateSMS(s, 160))
	})

	t.Run("short body is unchanged", func(t *testing.T) {
		assert.Equal(t, "short", TruncateSMS("short", 160))
	})

	t.Run("multi-byte rune at the cut point is not split", func(t *testing.T) {
		got := TruncateSMS(strings.Repeat("A", 156)+"é"+strings.Repeat("A", 40), 160)
		assert.True(t, utf8.ValidString(got))
		assert.Equal(t, 160, utf8.RuneCountInString(got))
		assert.True(t, strings.HasSuffix(got, "..."))
	})

	t.Run("multi-byte body within the character limit is unchanged", func(t *testing.T) {
		s := strings.Repeat("é", 160)
		assert.Equal(t, s, TruncateSMS(s, 160))
	})

	t.Run("long multi-byte body is cut by characters", func(t *testing.T) {
		got := TruncateSMS(strings.Repeat("日", 200), 160)
		assert.True(t, utf8.ValidString(got))
		assert.Equal(t, 160, utf8.RuneCountInString(got))
		assert.True(t, strings.HasSuffix(got, "..."))
	})
}

func TestRender_SMSTruncates(t *testing.T) {
	def := Definition{
		ID:      Reminder1hSMS,
		Channel: model.ChannelSMS,
		Text:    "{{event_title}} starts in 1 hour! Join: {{join_url}}",
	}
	tokens := Tokens{
		"event_title": strings.Repeat("Very Long Event Title ", 10),
		"join_url":    "https://example.com/join/abc123",
	}

	got := Render(def, tokens)
	assert.Len(t, got.Text, MaxSMSLength)
	assert.True(t, strings.HasSuffix(got.Text, "..."))
}

func TestRender_EmailProducesTextAndHTML(t *testing.T) {
	def, err := Lookup(WelcomeEmail, model.ChannelEmail)
	require.NoError(t, err)

	got := Render(def, Tokens{
		"first_name":  "Ada",
		"event_title": "Demo Day",
		"event_date":  "Oct 1",
		"join_url":    "https://example.com/join",
	})

	assert.Equal(t, "You're registered for Demo Day", got.Subject)
	assert.Contains(t, got.Text, "Hi Ada")
	assert.Contains(t, got.HTML, "<strong>Demo Day</strong>")
	assert.NotContains(t, got.Text, "{{")
	assert.NotContains(t, got.HTML, "{{")
}

func TestLookup(t *testing.T) {
	t.Run("known id resolves", func(t *testing.T) {
		def, err := Lookup(ThankYouEmail, model.ChannelEmail)
		require.NoError(t, err)
		assert.Equal(t, ThankYouEmail, def.ID)
	})

	t.Run("unknown id is terminal", func(t *testing.T) {
		_, err := Lookup(ID("definitely-not-real"), model.ChannelEmail)
		assert.ErrorIs(t, err, apperrors.ErrUnknownTemplate)
	})

	t.Run("channel mismatch is terminal", func(t *testing.T) {
		_, err := Lookup(Reminder24hSMS, model.ChannelEmail)
		assert.ErrorIs(t, err, apperrors.ErrUnknownTemplate)
	})
}

func TestCatalog_EverySMSTemplateFitsUnrendered(t *testing.T) {
	for id := range catalog {
		def := catalog[id]
		if def.Channel != model.ChannelSMS {
			continue
		}
		assert.LessOrEqual(t, len(def.Text), MaxSMSLength, "template %s raw body exceeds one segment", id)
		assert.Empty(t, def.Subject, "SMS template %s must not carry a subject", id)
		assert.Empty(t, def.HTML, "SMS template %s must not carry HTML", id)
	}
}

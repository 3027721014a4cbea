package template

import (
	"fmt"
	"regexp"

	"github.com/ceremoniacircle/myxelium-backend-sub000/internal/model"
)

// MaxSMSLength is the single-segment SMS budget rendered bodies are cut to.
const MaxSMSLength = 160

var tokenPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_]+)\s*\}\}`)

// Tokens is the substitution map for one render. Values are stringified with
// fmt.Sprint; nil values and absent keys both substitute as empty strings.
type Tokens map[string]interface{}

// Rendered is the channel-ready output of one render.
type Rendered struct {
	Subject string
	Text    string
	HTML    string
}

// Render substitutes every {{name}} occurrence in the definition's subject
// and bodies. It never fails and never leaves a placeholder behind. SMS text
// is truncated to a single segment.
func Render(def Definition, tokens Tokens) Rendered {
	out := Rendered{
		Subject: substitute(def.Subject, tokens),
		Text:    substitute(def.Text, tokens),
		HTML:    substitute(def.HTML, tokens),
	}
	if def.Channel == model.ChannelSMS {
		out.Text = TruncateSMS(out.Text, MaxSMSLength)
	}
	return out
}

func substitute(body string, tokens Tokens) string {
	if body == "" {
		return ""
	}
	return tokenPattern.ReplaceAllStringFunc(body, func(match string) string {
		name := tokenPattern.FindStringSubmatch(match)[1]
		val, ok := tokens[name]
		if !ok || val == nil {
			return ""
		}
		return fmt.Sprint(val)
	})
}

// TruncateSMS cuts s to at most max characters. When it cuts, it reserves
// room for and appends an ellipsis so the result is exactly max long.
// Counting is rune-based so a multi-byte body is never split mid-character.
func TruncateSMS(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	if max <= 3 {
		return string(runes[:max])
	}
	return string(runes[:max-3]) + "..."
}

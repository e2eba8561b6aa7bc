package judge

import (
	"strings"
	"unicode/utf8"

	"github.com/tidwall/gjson"

	"market-scanner/internal/model"
)

const maxReasonRunes = 300

// DegradedVerdict stands in for a response that could not be parsed.
func DegradedVerdict() model.Verdict {
	return model.Verdict{
		Decision:   model.DecisionHold,
		Score:      0,
		Confidence: 0.1,
		Risk:       model.RiskMedium,
		Reason:     "verdict parse failure",
		Tags:       []string{},
		Degraded:   true,
	}
}

// ParseCompletion extracts the verdict from a chat completion body.
func ParseCompletion(body []byte) model.Verdict {
	if !gjson.ValidBytes(body) {
		return DegradedVerdict()
	}
	content := gjson.GetBytes(body, "choices.0.message.content")
	if content.Type != gjson.String {
		return DegradedVerdict()
	}
	return ParseVerdict(content.Str)
}

// ParseVerdict reads the verdict object the model was asked to emit.
// Missing fields fall back to hold-side defaults; a non-object degrades.
func ParseVerdict(content string) model.Verdict {
	raw := stripFences(content)
	if !gjson.Valid(raw) {
		return DegradedVerdict()
	}
	obj := gjson.Parse(raw)
	if !obj.IsObject() {
		return DegradedVerdict()
	}

	v := model.Verdict{
		Decision:   model.DecisionHold,
		Risk:       model.RiskMedium,
		Confidence: 0,
		Tags:       []string{},
	}
	switch strings.ToLower(strings.TrimSpace(obj.Get("decision").String())) {
	case "push", "escalate":
		v.Decision = model.DecisionEscalate
	}
	if s := obj.Get("score"); s.Type == gjson.Number {
		v.Score = int(clampFloat(s.Float(), 0, 100) + 0.5)
	}
	if c := obj.Get("confidence"); c.Type == gjson.Number {
		v.Confidence = clampFloat(c.Float(), 0, 1)
	}
	switch model.Risk(strings.ToLower(obj.Get("risk").String())) {
	case model.RiskLow:
		v.Risk = model.RiskLow
	case model.RiskHigh:
		v.Risk = model.RiskHigh
	}
	v.Reason = truncateRunes(strings.TrimSpace(obj.Get("reason").String()), maxReasonRunes)
	for _, tag := range obj.Get("tags").Array() {
		if t := strings.TrimSpace(tag.String()); t != "" {
			v.Tags = append(v.Tags, t)
		}
	}
	return v
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

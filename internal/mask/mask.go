// Package mask redacts personal data in document text before it is
// handed to lower-sensitivity consumers. Patterns cover emails, phone
// numbers, payment card numbers and 12-digit national identifiers.
package mask

import (
	"regexp"
	"strings"
)

// Policy selects how much of a matched value survives.
type Policy string

const (
	// PolicyDefault keeps the trailing four digits of a number and the
	// first letter plus domain of an email.
	PolicyDefault Policy = "default"
	// PolicyPartial keeps the first two and last two characters.
	PolicyPartial Policy = "partial"
	// PolicyFull replaces the whole value.
	PolicyFull Policy = "full"
)

const redacted = "[REDACTED]"

var (
	emailRe = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)
	phoneRe = regexp.MustCompile(`\+?\d[\d\s\-()]{8,14}\d`)
	cardRe  = regexp.MustCompile(`\b(?:\d[ -]?){13,18}\d\b`)
	iinRe   = regexp.MustCompile(`\b\d{12}\b`)
)

// Masker applies the configured policy to all recognised patterns.
type Masker struct {
	policy Policy
}

func New(policy Policy) *Masker {
	switch policy {
	case PolicyDefault, PolicyPartial, PolicyFull:
	default:
		policy = PolicyDefault
	}
	return &Masker{policy: policy}
}

// Apply masks every recognised value in text. Card numbers are masked
// before phone numbers so a 16-digit card is not half-eaten by the
// shorter phone pattern.
func (m *Masker) Apply(text string) string {
	text = cardRe.ReplaceAllStringFunc(text, m.maskValue)
	text = iinRe.ReplaceAllStringFunc(text, m.maskValue)
	text = emailRe.ReplaceAllStringFunc(text, m.maskEmail)
	text = phoneRe.ReplaceAllStringFunc(text, m.maskPhone)
	return text
}

// maskPhone skips matches with fewer than ten digits; dates and short
// references otherwise satisfy the loose phone pattern.
func (m *Masker) maskPhone(v string) string {
	if countDigits(v) < 10 {
		return v
	}
	return m.maskValue(v)
}

func (m *Masker) maskEmail(v string) string {
	switch m.policy {
	case PolicyFull:
		return redacted
	case PolicyPartial:
		return maskEdges(v, 2, 2)
	}
	at := strings.IndexByte(v, '@')
	if at < 1 {
		return redacted
	}
	return v[:1] + strings.Repeat("*", at-1) + v[at:]
}

func (m *Masker) maskValue(v string) string {
	switch m.policy {
	case PolicyFull:
		return redacted
	case PolicyPartial:
		return maskEdges(v, 2, 2)
	}
	return maskDigitsKeepLast(v, 4)
}

// maskEdges keeps head leading and tail trailing characters.
func maskEdges(v string, head, tail int) string {
	runes := []rune(v)
	if len(runes) <= head+tail {
		return redacted
	}
	var b strings.Builder
	for i, r := range runes {
		if i < head || i >= len(runes)-tail {
			b.WriteRune(r)
		} else {
			b.WriteByte('*')
		}
	}
	return b.String()
}

// maskDigitsKeepLast stars every digit except the trailing keep,
// preserving separators.
func maskDigitsKeepLast(v string, keep int) string {
	digits := countDigits(v)
	var b strings.Builder
	seen := 0
	for _, r := range v {
		if r < '0' || r > '9' {
			b.WriteRune(r)
			continue
		}
		seen++
		if digits-seen < keep {
			b.WriteRune(r)
		} else {
			b.WriteByte('*')
		}
	}
	return b.String()
}

func countDigits(v string) int {
	n := 0
	for _, r := range v {
		if r >= '0' && r <= '9' {
			n++
		}
	}
	return n
}

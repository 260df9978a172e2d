// Package redact rewrites secret-shaped spans in outbound text to a
// fixed marker. Redaction is idempotent: the marker itself never
// matches a pattern, so re-running the pass is a no-op.
package redact

import (
	"regexp"
)

// Marker replaces every redacted span.
const Marker = "[[REDACTED]]"

// Redactor applies a compiled pattern set.
type Redactor struct {
	patterns []*regexp.Regexp
}

// New builds a redactor over pre-compiled patterns (the policy engine
// owns compilation).
func New(patterns []*regexp.Regexp) *Redactor {
	return &Redactor{patterns: patterns}
}

// Apply replaces every match of every pattern with the marker and
// reports whether anything was redacted.
func (r *Redactor) Apply(text string) (string, bool) {
	redacted := false
	for _, re := range r.patterns {
		if re.MatchString(text) {
			text = re.ReplaceAllString(text, Marker)
			redacted = true
		}
	}
	return text, redacted
}

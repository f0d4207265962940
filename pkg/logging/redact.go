package logging

import (
	"log/slog"
	"regexp"
	"strings"
)

const redacted = "[REDACTED]"

// Redactor scrubs known secrets and credential-shaped substrings from log output.
type Redactor struct {
	knownSecrets []string
	patterns     []*regexp.Regexp
}

// NewRedactor creates a redactor knowing the provided secrets. Empty strings are ignored.
func NewRedactor(secrets ...string) *Redactor {
	known := make([]string, 0, len(secrets))
	for _, s := range secrets {
		if s != "" {
			known = append(known, s)
		}
	}

	return &Redactor{
		knownSecrets: known,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(Authorization: Bearer\s+)([a-zA-Z0-9\-\._~+/]+=*)`),
			regexp.MustCompile(`(?i)(x-api-key["']?\s*[:=]\s*["']?)([^\s"',}]+)`),
		},
	}
}

// Redact replaces secrets in the input string.
func (r *Redactor) Redact(input string) string {
	res := input
	for _, secret := range r.knownSecrets {
		res = strings.ReplaceAll(res, secret, redacted)
	}
	for _, re := range r.patterns {
		res = re.ReplaceAllString(res, "${1}"+redacted)
	}
	return res
}

// ReplaceAttr is a slog.HandlerOptions.ReplaceAttr hook applying Redact to
// string values and error messages.
func (r *Redactor) ReplaceAttr(_ []string, a slog.Attr) slog.Attr {
	switch a.Value.Kind() {
	case slog.KindString:
		if v := a.Value.String(); v != "" {
			a.Value = slog.StringValue(r.Redact(v))
		}
	case slog.KindAny:
		if err, ok := a.Value.Any().(error); ok && err != nil {
			a.Value = slog.StringValue(r.Redact(err.Error()))
		}
	}
	return a
}

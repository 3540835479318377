package logx

import (
	"bytes"
	"encoding/json"
	"io"
	"regexp"
	"strings"
	"sync"
)

const (
	// RedactedMarker replaces values of sensitive keys.
	RedactedMarker = "[REDACTED]"
	// TruncatedMarker replaces values nested deeper than the redaction depth.
	TruncatedMarker = "[TRUNCATED]"

	defaultMaxDepth = 8
)

// DefaultRedactKeys are matched case-insensitively as substrings of field
// names, after '-', '_' and spaces are removed.
var DefaultRedactKeys = []string{
	"password", "token", "secret", "authorization", "cookie",
	"apikey", "sessionid", "jwt", "bearer",
}

// defaultAllowKeys are exact field names that would match the denylist but
// only ever hold counts.
var defaultAllowKeys = map[string]struct{}{
	"prompt_tokens":     {},
	"completion_tokens": {},
	"total_tokens":      {},
	"input_tokens":      {},
	"output_tokens":     {},
	"max_tokens":        {},
	"history_tokens":    {},
}

type piiPattern struct {
	re     *regexp.Regexp
	marker string
}

// Order matters: longer digit runs are claimed before shorter patterns.
var piiPatterns = []piiPattern{
	{regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`), "[REDACTED_EMAIL]"},
	{regexp.MustCompile(`\b(?:\d[ -]?){12,18}\d\b`), "[REDACTED_CARD]"},
	{regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`), "[REDACTED_SSN]"},
	{regexp.MustCompile(`\b(?:(?:25[0-5]|2[0-4]\d|1?\d?\d)\.){3}(?:25[0-5]|2[0-4]\d|1?\d?\d)\b`), "[REDACTED_IP]"},
	{regexp.MustCompile(`(?:\+\d{1,3}[\s.-]?)?(?:\(\d{3}\)|\b\d{3})[\s.-]?\d{3}[\s.-]?\d{4}\b`), "[REDACTED_PHONE]"},
}

// Redactor scrubs secrets and PII out of structured log payloads.
type Redactor struct {
	keys     []string
	allow    map[string]struct{}
	maxDepth int
}

// NewRedactor returns a Redactor for the given key denylist, or for
// DefaultRedactKeys when none are supplied.
func NewRedactor(keys ...string) *Redactor {
	if len(keys) == 0 {
		keys = DefaultRedactKeys
	}
	normalized := make([]string, 0, len(keys))
	for _, k := range keys {
		if n := normalizeKey(k); n != "" {
			normalized = append(normalized, n)
		}
	}
	return &Redactor{keys: normalized, allow: defaultAllowKeys, maxDepth: defaultMaxDepth}
}

func normalizeKey(k string) string {
	return strings.NewReplacer("-", "", "_", "", " ", "").Replace(strings.ToLower(k))
}

// IsSensitiveKey reports whether values under key must be hidden.
func (r *Redactor) IsSensitiveKey(key string) bool {
	if _, ok := r.allow[strings.ToLower(key)]; ok {
		return false
	}
	n := normalizeKey(key)
	for _, k := range r.keys {
		if strings.Contains(n, k) {
			return true
		}
	}
	return false
}

// RedactString replaces PII found in free text with type-tagged markers.
func (r *Redactor) RedactString(s string) string {
	for _, p := range piiPatterns {
		s = p.re.ReplaceAllString(s, p.marker)
	}
	return s
}

// RedactFields returns a scrubbed copy of fields.
func (r *Redactor) RedactFields(fields map[string]any) map[string]any {
	out, _ := r.redact(fields, 0).(map[string]any)
	return out
}

func (r *Redactor) redact(v any, depth int) any {
	if depth > r.maxDepth {
		return TruncatedMarker
	}
	switch vv := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(vv))
		for k, val := range vv {
			if r.IsSensitiveKey(k) {
				out[k] = RedactedMarker
				continue
			}
			out[k] = r.redact(val, depth+1)
		}
		return out
	case []any:
		out := make([]any, len(vv))
		for i, val := range vv {
			out[i] = r.redact(val, depth+1)
		}
		return out
	case string:
		return r.RedactString(vv)
	default:
		return v
	}
}

// RedactingWriter decodes each zerolog event, scrubs it and forwards the
// re-encoded event to the wrapped writer.
type RedactingWriter struct {
	mu       sync.Mutex
	out      io.Writer
	redactor *Redactor
}

func NewRedactingWriter(out io.Writer, r *Redactor) *RedactingWriter {
	if r == nil {
		r = NewRedactor()
	}
	return &RedactingWriter{out: out, redactor: r}
}

// Write always reports len(p) on success so zerolog does not treat the
// re-encoded length as a short write.
func (w *RedactingWriter) Write(p []byte) (int, error) {
	var event map[string]any
	dec := json.NewDecoder(bytes.NewReader(p))
	dec.UseNumber()

	var payload []byte
	if err := dec.Decode(&event); err != nil {
		payload = []byte(w.redactor.RedactString(string(p)))
	} else {
		b, err := json.Marshal(w.redactor.RedactFields(event))
		if err != nil {
			return 0, err
		}
		payload = append(b, '\n')
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.out.Write(payload); err != nil {
		return 0, err
	}
	return len(p), nil
}

package logger

import (
	"io"
	"regexp"
)

// Logs carry customer phone numbers and provider credentials; both must be
// masked before anything hits disk. Credentials are replaced wholesale, phone
// numbers keep their country code and last two digits so a conversation can
// still be traced to a known staff member.

var phonePattern = regexp.MustCompile(`\+\d{7,15}`)

// Redactor masks sensitive values in log output.
type Redactor struct {
	patterns []*regexp.Regexp
}

// NewRedactor creates a redactor covering the credentials this service
// handles.
func NewRedactor() *Redactor {
	return &Redactor{
		patterns: []*regexp.Regexp{
			// Anthropic and OpenAI API keys
			regexp.MustCompile(`sk-ant-[a-zA-Z0-9_-]{20,}`),
			regexp.MustCompile(`sk-[a-zA-Z0-9_-]{20,}`),

			// Twilio account SIDs and message auth material
			regexp.MustCompile(`AC[0-9a-fA-F]{32}`),
			regexp.MustCompile(`SK[0-9a-fA-F]{32}`),

			// Notion integration tokens
			regexp.MustCompile(`ntn_[a-zA-Z0-9]{20,}`),
			regexp.MustCompile(`secret_[a-zA-Z0-9]{20,}`),

			// Bearer tokens and generic labeled secrets
			regexp.MustCompile(`Bearer\s+[a-zA-Z0-9._-]+`),
			regexp.MustCompile(`password["\s:=]+[^\s"]+`),
			regexp.MustCompile(`token["\s:=]+[a-zA-Z0-9._-]{20,}`),
		},
	}
}

// AddPattern adds a custom redaction pattern.
func (r *Redactor) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	r.patterns = append(r.patterns, re)
	return nil
}

// Redact masks sensitive values in s.
func (r *Redactor) Redact(s string) string {
	result := s
	for _, pattern := range r.patterns {
		result = pattern.ReplaceAllString(result, "[REDACTED]")
	}
	result = phonePattern.ReplaceAllStringFunc(result, maskPhone)
	return result
}

// maskPhone keeps the first four and last two characters of a number:
// "+639171234567" becomes "+639*******67".
func maskPhone(number string) string {
	if len(number) <= 6 {
		return number
	}
	masked := []byte(number)
	for i := 4; i < len(masked)-2; i++ {
		masked[i] = '*'
	}
	return string(masked)
}

// Wrap returns a writer that redacts everything written through it.
func (r *Redactor) Wrap(w io.Writer) io.Writer {
	return &redactingWriter{writer: w, redactor: r}
}

type redactingWriter struct {
	writer   io.Writer
	redactor *Redactor
}

func (w *redactingWriter) Write(p []byte) (n int, err error) {
	redacted := w.redactor.Redact(string(p))
	if _, err := w.writer.Write([]byte(redacted)); err != nil {
		return 0, err
	}
	// Report the original length so zerolog does not see a short write.
	return len(p), nil
}

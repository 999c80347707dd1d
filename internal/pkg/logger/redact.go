package logger

import (
	"regexp"
	"strings"
)

var (
	emailRegex = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)
	phoneRegex = regexp.MustCompile(`\+?\d[\d ().-]{8,}\d`)
)

// redactValue masks customer contact data before it reaches the log stream.
// Email-ish keys get the address masked; phone-ish keys get digits masked;
// any other value still has embedded email addresses scrubbed.
func redactValue(key, val string) string {
	k := strings.ToLower(key)
	switch {
	case strings.Contains(k, "email") || strings.Contains(k, "customer") || strings.Contains(k, "guest"):
		return emailRegex.ReplaceAllStringFunc(phoneRegex.ReplaceAllString(val, "***"), RedactEmail)
	case strings.Contains(k, "phone") || strings.Contains(k, "fone"):
		return phoneRegex.ReplaceAllString(val, "***")
	}
	return emailRegex.ReplaceAllStringFunc(val, RedactEmail)
}

// RedactEmail masks the local part of an email address, keeping the first
// character and the full domain for debuggability.
func RedactEmail(email string) string {
	at := strings.IndexByte(email, '@')
	if at <= 0 {
		return "***"
	}
	return email[:1] + "***" + email[at:]
}

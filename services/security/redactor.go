package security

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/promptcraft/promptcraft-hybrid/models"
)

// Redacted replaces values stored under sensitive keys
const Redacted = "[REDACTED]"

// SecretType names the kind of secret found inside a string value
type SecretType string

const (
	SecretTypeJWT         SecretType = "jwt"
	SecretTypeBearer      SecretType = "bearer_token"
	SecretTypeAWSKey      SecretType = "aws_key"
	SecretTypeGCPKey      SecretType = "gcp_key"
	SecretTypeGitHubToken SecretType = "github_token"
	SecretTypeSlackToken  SecretType = "slack_token"
	SecretTypeStripeKey   SecretType = "stripe_key"
	SecretTypePrivateKey  SecretType = "private_key"
	SecretTypeDatabaseURL SecretType = "database_url"
	SecretTypePassword    SecretType = "password"
)

type secretPattern struct {
	kind    SecretType
	pattern *regexp.Regexp
}

// Order matters: JWTs are replaced before the bearer pattern sees them and
// credentialed URLs before the inline password pattern.
var secretPatterns = []secretPattern{
	{SecretTypePrivateKey, regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----(?s:.*?)(?:-----END [A-Z ]*PRIVATE KEY-----|$)`)},
	{SecretTypeJWT, regexp.MustCompile(`\beyJ[A-Za-z0-9_\-]+\.eyJ[A-Za-z0-9_\-]+\.[A-Za-z0-9_\-]+`)},
	{SecretTypeBearer, regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9_\-\.=+/]{20,}`)},
	{SecretTypeAWSKey, regexp.MustCompile(`\b(?:AKIA|ASIA)[0-9A-Z]{16}\b`)},
	{SecretTypeGCPKey, regexp.MustCompile(`\bAIza[0-9A-Za-z\-_]{35}\b`)},
	{SecretTypeGitHubToken, regexp.MustCompile(`\bgh[pousr]_[A-Za-z0-9]{36,}\b`)},
	{SecretTypeSlackToken, regexp.MustCompile(`\bxox[baprs]-[A-Za-z0-9\-]{10,}`)},
	{SecretTypeStripeKey, regexp.MustCompile(`\b(?:sk|rk)_(?:live|test)_[0-9a-zA-Z]{24,}\b`)},
	{SecretTypeDatabaseURL, regexp.MustCompile(`(?i)\b(?:postgres|postgresql|mysql|mongodb|redis|amqp)://[^\s'"/:@]+:[^\s'"@]+@[^\s'"]+`)},
	{SecretTypePassword, regexp.MustCompile(`(?i)\b(?:password|passwd|pwd)\s*[:=]\s*[^\s'",;\[]{4,}`)},
}

var sensitiveKeys = []string{
	"password",
	"passwd",
	"secret",
	"token",
	"api_key",
	"apikey",
	"authorization",
	"cookie",
	"private_key",
	"credential",
}

// IsSensitiveKey reports whether values stored under key must never be logged
func IsSensitiveKey(key string) bool {
	k := strings.ToLower(strings.ReplaceAll(key, "-", "_"))
	for _, s := range sensitiveKeys {
		if strings.Contains(k, s) {
			return true
		}
	}
	return false
}

// RedactString replaces every recognised secret in s with [REDACTED:<type>]
func RedactString(s string) string {
	if s == "" {
		return s
	}
	for _, p := range secretPatterns {
		s = p.pattern.ReplaceAllLiteralString(s, "[REDACTED:"+string(p.kind)+"]")
	}
	return s
}

// DetectSecrets lists the secret types present in s, in pattern order
func DetectSecrets(s string) []SecretType {
	var found []SecretType
	for _, p := range secretPatterns {
		if p.pattern.MatchString(s) {
			found = append(found, p.kind)
		}
	}
	return found
}

// RedactValue walks a decoded JSON value and returns a sanitized copy
func RedactValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, inner := range val {
			if IsSensitiveKey(k) {
				out[k] = Redacted
				continue
			}
			out[k] = RedactValue(inner)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, inner := range val {
			out[i] = RedactValue(inner)
		}
		return out
	case string:
		return RedactString(val)
	default:
		return v
	}
}

// RedactDetails sanitizes a JSON details document. Documents that do not
// decode are replaced by a marker rather than stored raw.
func RedactDetails(details json.RawMessage) json.RawMessage {
	if len(details) == 0 {
		return details
	}
	dec := json.NewDecoder(bytes.NewReader(details))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return json.RawMessage(`{"details":"` + Redacted + `"}`)
	}
	out, err := json.Marshal(RedactValue(v))
	if err != nil {
		return json.RawMessage(`{"details":"` + Redacted + `"}`)
	}
	return out
}

// RedactEvent sanitizes the free-text fields of an event in place
func RedactEvent(event *models.SecurityEvent) {
	event.Message = RedactString(event.Message)
	event.UserAgent = RedactString(event.UserAgent)
	event.Details = RedactDetails(event.Details)
}

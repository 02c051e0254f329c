package sanitize

import "regexp"

// SecretType names a family of credential-looking values
type SecretType string

const (
	SecretTypeJWT         SecretType = "jwt"
	SecretTypePrivateKey  SecretType = "private_key"
	SecretTypeAWSKey      SecretType = "aws_key"
	SecretTypeGCPKey      SecretType = "gcp_key"
	SecretTypeGitHubToken SecretType = "github_token"
	SecretTypeSlackToken  SecretType = "slack_token"
	SecretTypeStripeKey   SecretType = "stripe_key"
	SecretTypeOpenAIKey   SecretType = "openai_key"
	SecretTypeAnthropic   SecretType = "anthropic_key"
	SecretTypeDatabaseURL SecretType = "database_url"
	SecretTypeBearer      SecretType = "bearer_token"
)

type secretPattern struct {
	typ SecretType
	re  *regexp.Regexp
}

// Order matters: broader patterns run after the specific ones so a
// replaced span is never matched twice.
var secretPatterns = []secretPattern{
	{SecretTypePrivateKey, regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----[\s\S]*?(?:-----END [A-Z ]*PRIVATE KEY-----|$)`)},
	{SecretTypeJWT, regexp.MustCompile(`\beyJ[A-Za-z0-9_\-]+\.eyJ[A-Za-z0-9_\-]+\.[A-Za-z0-9_\-]*`)},
	{SecretTypeAWSKey, regexp.MustCompile(`\b(?:AKIA|ASIA)[0-9A-Z]{16}\b`)},
	{SecretTypeGCPKey, regexp.MustCompile(`\bAIza[0-9A-Za-z\-_]{35}\b`)},
	{SecretTypeGitHubToken, regexp.MustCompile(`\bgh[pousr]_[A-Za-z0-9]{36,}\b`)},
	{SecretTypeSlackToken, regexp.MustCompile(`\bxox[baprs]-[A-Za-z0-9\-]{10,}\b`)},
	{SecretTypeStripeKey, regexp.MustCompile(`\b[sr]k_(?:live|test)_[0-9a-zA-Z]{24,}\b`)},
	{SecretTypeAnthropic, regexp.MustCompile(`\bsk-ant-[A-Za-z0-9\-_]{32,}`)},
	{SecretTypeOpenAIKey, regexp.MustCompile(`\bsk-(?:proj-)?[A-Za-z0-9_\-]{32,}`)},
	{SecretTypeDatabaseURL, regexp.MustCompile(`(?i)\b(?:postgres|postgresql|mysql|mongodb(?:\+srv)?|redis|amqp)://[^\s'"/:@]+:[^\s'"@]+@[^\s'"]+`)},
	{SecretTypeBearer, regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9_\-\.=]{20,}`)},
}

// MaskSecrets replaces every credential-looking span in text with a typed
// placeholder such as "[JWT_REDACTED]". found reports whether anything changed.
func MaskSecrets(text string) (masked string, found bool) {
	masked = text
	for _, p := range secretPatterns {
		if !p.re.MatchString(masked) {
			continue
		}
		masked = p.re.ReplaceAllLiteralString(masked, redactionString(p.typ))
		found = true
	}
	return masked, found
}

// HasSecrets reports whether text contains a credential-looking value
func HasSecrets(text string) bool {
	for _, p := range secretPatterns {
		if p.re.MatchString(text) {
			return true
		}
	}
	return false
}

func redactionString(t SecretType) string {
	switch t {
	case SecretTypeJWT:
		return "[JWT_REDACTED]"
	case SecretTypePrivateKey:
		return "[PRIVATE_KEY_REDACTED]"
	case SecretTypeAWSKey:
		return "[AWS_KEY_REDACTED]"
	case SecretTypeGCPKey:
		return "[GCP_KEY_REDACTED]"
	case SecretTypeGitHubToken:
		return "[GITHUB_TOKEN_REDACTED]"
	case SecretTypeSlackToken:
		return "[SLACK_TOKEN_REDACTED]"
	case SecretTypeStripeKey:
		return "[STRIPE_KEY_REDACTED]"
	case SecretTypeOpenAIKey:
		return "[OPENAI_KEY_REDACTED]"
	case SecretTypeAnthropic:
		return "[ANTHROPIC_KEY_REDACTED]"
	case SecretTypeDatabaseURL:
		return "[DATABASE_URL_REDACTED]"
	case SecretTypeBearer:
		return "[TOKEN_REDACTED]"
	default:
		return "[SECRET_REDACTED]"
	}
}

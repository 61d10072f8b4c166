package utils

import (
	"net/url"
	"regexp"
	"strings"
)

var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`api-key=[a-zA-Z0-9-]+`),
	regexp.MustCompile(`x-token=[a-zA-Z0-9-]+`),
	regexp.MustCompile(`token=[a-zA-Z0-9-]+`),
	regexp.MustCompile(`bot[0-9]+:[a-zA-Z0-9_-]+`),
	regexp.MustCompile(`Bearer [a-zA-Z0-9._-]+`),
}

// SanitizeURL strips query parameters and masks the first host label so
// provider endpoints with embedded keys are safe to log.
func SanitizeURL(rawURL string) string {
	if rawURL == "" {
		return "unknown"
	}

	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return "invalid-url"
	}

	parsedURL.RawQuery = ""
	parsedURL.User = nil

	host := parsedURL.Host
	if strings.Contains(host, ".") {
		parts := strings.Split(host, ".")
		if len(parts) > 2 {
			parts[0] = parts[0][:min(3, len(parts[0]))] + "***"
		}
		parsedURL.Host = strings.Join(parts, ".")
	}

	return parsedURL.String()
}

func SanitizePrivateKey(key string) string {
	if key == "" {
		return "not-set"
	}
	return "***SECRET-HIDDEN***"
}

func SanitizeWalletAddress(address string) string {
	if len(address) < 8 {
		return "***"
	}
	return address[:4] + "..." + address[len(address)-4:]
}

// SanitizeError renders err with every known endpoint replaced by its
// sanitized form and credential-looking substrings masked.
func SanitizeError(err error, endpoints ...string) string {
	if err == nil {
		return ""
	}

	errMsg := err.Error()

	for _, endpoint := range endpoints {
		if endpoint == "" {
			continue
		}
		errMsg = strings.ReplaceAll(errMsg, endpoint, SanitizeURL(endpoint))
	}

	for _, re := range secretPatterns {
		errMsg = re.ReplaceAllString(errMsg, "***API-KEY-HIDDEN***")
	}

	return errMsg
}

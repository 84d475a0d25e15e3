// Package errorclassifier maps raw scoring-provider responses onto the
// failure taxonomy the rotation loop reacts to. Classification is a pure
// function of status code and body text; it holds no state and is safe for
// concurrent use.
package errorclassifier

import (
	"net/http"
	"strings"
)

// Kind is the classified failure mode of one provider call.
type Kind int

const (
	// KindOther is the default: non-retryable, advance to the next model.
	KindOther Kind = iota
	// KindQuota means the credential's request budget for the model family
	// is spent until an external reset. Not a wait-and-retry condition.
	KindQuota
	// KindRateLimit is transient throttling without quota exhaustion.
	KindRateLimit
	// KindInvalidCredential means the key is rejected outright or lacks
	// permission; the credential is unusable.
	KindInvalidCredential
	// KindNotFound means the model name does not exist for this account.
	KindNotFound
	// KindTransientUnavailable is a retryable upstream outage.
	KindTransientUnavailable
)

// String implements fmt.Stringer so classified kinds read well in logs.
func (k Kind) String() string {
	switch k {
	case KindQuota:
		return "quota"
	case KindRateLimit:
		return "rate_limit"
	case KindInvalidCredential:
		return "invalid_credential"
	case KindNotFound:
		return "not_found"
	case KindTransientUnavailable:
		return "transient_unavailable"
	default:
		return "other"
	}
}

var quotaPhrases = []string{
	"quota",
	"billing",
	"check your plan",
}

var rateLimitPhrases = []string{
	"too many requests",
	"rate limit",
	"resource has been exhausted",
	"resource_exhausted",
}

var credentialPhrases = []string{
	"api key",
	"api_key",
	"credential",
	"unauthenticated",
}

// Classify maps a (status code, response body) pair to a Kind. Rules are
// evaluated in priority order; the first match wins.
func Classify(statusCode int, body string) Kind {
	lower := strings.ToLower(body)

	switch {
	case statusCode == http.StatusNotFound:
		return KindNotFound
	case statusCode == http.StatusBadRequest && containsAny(lower, credentialPhrases):
		return KindInvalidCredential
	case statusCode == http.StatusTooManyRequests && containsAny(lower, quotaPhrases):
		return KindQuota
	case statusCode == http.StatusTooManyRequests && containsAny(lower, rateLimitPhrases):
		return KindRateLimit
	case statusCode == http.StatusTooManyRequests:
		// 429 without recognizable phrasing is still throttling.
		return KindRateLimit
	case statusCode == http.StatusForbidden:
		// Permission denied: unusable for this credential, same handling
		// as an invalid key.
		return KindInvalidCredential
	case statusCode == http.StatusServiceUnavailable || statusCode == http.StatusGatewayTimeout:
		return KindTransientUnavailable
	default:
		return KindOther
	}
}

// Retryable reports whether the kind is worth retrying against the same
// (credential, model) pair with backoff.
func (k Kind) Retryable() bool {
	return k == KindTransientUnavailable
}

func containsAny(s string, phrases []string) bool {
	for _, phrase := range phrases {
		if strings.Contains(s, phrase) {
			return true
		}
	}
	return false
}

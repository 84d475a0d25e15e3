package errorclassifier

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify_QuotaBeatsRateLimit(t *testing.T) {
	// 429 bodies carrying quota/billing language mean the key is spent for
	// the day, not that the caller should wait and retry.
	bodies := []string{
		`{"error":{"code":429,"message":"You exceeded your current quota, please check your plan and billing details.","status":"RESOURCE_EXHAUSTED"}}`,
		`Quota exceeded for quota metric 'GenerateContent requests'`,
		`billing account not in good standing`,
	}
	for _, body := range bodies {
		assert.Equal(t, KindQuota, Classify(429, body), "body: %s", body)
	}
}

func TestClassify_RateLimit(t *testing.T) {
	bodies := []string{
		`too many requests, slow down`,
		`{"error":{"message":"Resource has been exhausted (e.g. check rate limit).","status":"RESOURCE_EXHAUSTED"}}`,
		`rate limit reached for this model`,
		``, // bare 429 is still throttling
	}
	for _, body := range bodies {
		assert.Equal(t, KindRateLimit, Classify(429, body), "body: %q", body)
	}
}

func TestClassify_InvalidCredential(t *testing.T) {
	assert.Equal(t, KindInvalidCredential, Classify(400, `{"error":{"message":"API key not valid. Please pass a valid API key.","status":"INVALID_ARGUMENT"}}`))
	assert.Equal(t, KindInvalidCredential, Classify(400, `API_KEY_INVALID`))
	assert.Equal(t, KindInvalidCredential, Classify(403, `permission denied`))
	assert.Equal(t, KindInvalidCredential, Classify(403, ``))
}

func TestClassify_NotFoundWinsOverBody(t *testing.T) {
	// 404 is checked first even when the body mentions quota terms.
	assert.Equal(t, KindNotFound, Classify(404, `models/unknown is not found; quota unaffected`))
}

func TestClassify_Transient(t *testing.T) {
	assert.Equal(t, KindTransientUnavailable, Classify(503, `The model is overloaded. Please try again later.`))
	assert.Equal(t, KindTransientUnavailable, Classify(504, ``))
}

func TestClassify_Other(t *testing.T) {
	assert.Equal(t, KindOther, Classify(500, `internal error`))
	assert.Equal(t, KindOther, Classify(400, `invalid argument: contents must not be empty`))
	assert.Equal(t, KindOther, Classify(418, ``))
}

func TestKind_Retryable(t *testing.T) {
	assert.True(t, KindTransientUnavailable.Retryable())
	for _, k := range []Kind{KindQuota, KindRateLimit, KindInvalidCredential, KindNotFound, KindOther} {
		assert.False(t, k.Retryable(), k.String())
	}
}

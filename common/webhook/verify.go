package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/opsrelay/opsrelay/common/apperrors"
)

// slackTimestampSkew is the maximum allowed age of a Slack request timestamp
const slackTimestampSkew = 5 * time.Minute

// hmacSHA256Hex computes the hex HMAC-SHA256 of body under secret
func hmacSHA256Hex(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// constantTimeEqual compares two strings without leaking length-prefix timing
func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// verifyHMACHeader checks a "<prefix><hex-hmac>" style header (GitHub's
// X-Hub-Signature-256 is "sha256=<hex>", Slack's is "v0=<hex>", plain schemes
// use an empty prefix) against the body digest.
func verifyHMACHeader(headerValue, prefix, secret string, body []byte) error {
	if headerValue == "" {
		return apperrors.New(apperrors.KindAuthentication, "missing signature header")
	}
	expected := prefix + hmacSHA256Hex(secret, body)
	if !constantTimeEqual(headerValue, expected) {
		return apperrors.New(apperrors.KindAuthentication, "signature mismatch")
	}
	return nil
}

// verifySlackSignature checks the Slack signing scheme:
// HMAC-SHA256(secret, "v0:<timestamp>:<raw body>") with the timestamp within
// five minutes of now.
func verifySlackSignature(signature, timestamp, secret string, body []byte, now time.Time) error {
	if signature == "" || timestamp == "" {
		return apperrors.New(apperrors.KindAuthentication, "missing slack signature headers")
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return apperrors.New(apperrors.KindAuthentication, "malformed slack request timestamp")
	}

	age := now.Sub(time.Unix(ts, 0))
	if age > slackTimestampSkew || age < -slackTimestampSkew {
		return apperrors.New(apperrors.KindAuthentication, "slack request timestamp outside allowed window")
	}

	base := fmt.Sprintf("v0:%s:%s", timestamp, body)
	expected := "v0=" + hmacSHA256Hex(secret, []byte(base))
	if !constantTimeEqual(signature, expected) {
		return apperrors.New(apperrors.KindAuthentication, "slack signature mismatch")
	}
	return nil
}

// verifySharedToken checks simple shared-secret header schemes (GitLab's
// X-Gitlab-Token, Jira shared secrets, Prometheus bearer tokens)
func verifySharedToken(got, want string) error {
	if got == "" {
		return apperrors.New(apperrors.KindAuthentication, "missing token header")
	}
	if !constantTimeEqual(got, want) {
		return apperrors.New(apperrors.KindAuthentication, "token mismatch")
	}
	return nil
}

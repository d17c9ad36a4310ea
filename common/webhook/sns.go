package webhook

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/opsrelay/opsrelay/common/apperrors"
	"github.com/opsrelay/opsrelay/common/logger"
)

// snsMessageTypeHeader carries the SNS envelope type for CloudWatch deliveries
const snsMessageTypeHeader = "X-Amz-Sns-Message-Type"

// SNSConfirmer completes the SNS subscription handshake for CloudWatch
// deliveries: a SubscriptionConfirmation envelope carries a SubscribeURL
// that must be fetched once before notifications flow.
type SNSConfirmer struct {
	client *http.Client
	logger *logger.Logger
}

// NewSNSConfirmer creates a confirmer with a bounded outbound timeout
func NewSNSConfirmer(timeout time.Duration, log *logger.Logger) *SNSConfirmer {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &SNSConfirmer{
		client: &http.Client{Timeout: timeout},
		logger: log,
	}
}

// IsSubscriptionConfirmation reports whether the request is an SNS handshake
func IsSubscriptionConfirmation(headers http.Header) bool {
	return headers.Get(snsMessageTypeHeader) == "SubscriptionConfirmation"
}

// Confirm fetches the SubscribeURL from a SubscriptionConfirmation envelope.
// Only amazonaws.com hosts are fetched so a forged envelope cannot turn the
// gateway into an open proxy.
func (c *SNSConfirmer) Confirm(ctx context.Context, body []byte) error {
	subscribeURL := gjson.GetBytes(body, "SubscribeURL").String()
	if subscribeURL == "" {
		return apperrors.New(apperrors.KindValidation, "subscription confirmation missing SubscribeURL")
	}

	parsed, err := url.Parse(subscribeURL)
	if err != nil || parsed.Scheme != "https" {
		return apperrors.New(apperrors.KindValidation, "malformed SubscribeURL")
	}
	if !strings.HasSuffix(parsed.Hostname(), ".amazonaws.com") {
		return apperrors.New(apperrors.KindValidation, fmt.Sprintf("refusing to confirm non-AWS host %q", parsed.Hostname()))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, subscribeURL, nil)
	if err != nil {
		return fmt.Errorf("failed to build confirmation request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return apperrors.Wrap(err, apperrors.KindUnavailable, "failed to fetch SubscribeURL")
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode != http.StatusOK {
		return apperrors.New(apperrors.KindUnavailable, fmt.Sprintf("subscription confirmation returned %d", resp.StatusCode))
	}

	c.logger.Info("confirmed SNS subscription",
		"topic_arn", gjson.GetBytes(body, "TopicArn").String())
	return nil
}

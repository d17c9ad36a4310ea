package executors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/slack-go/slack"

	"github.com/opsrelay/opsrelay/common/apperrors"
	"github.com/opsrelay/opsrelay/common/logger"
	"github.com/opsrelay/opsrelay/common/models"
	"github.com/opsrelay/opsrelay/common/quota"
	"github.com/opsrelay/opsrelay/common/repository"
)

// chatPoster is the slice of the Slack client the nudger uses
type chatPoster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// SlackNudger posts nudge messages to a chat channel. Each post consumes one
// unit of the slack_posts daily quota; a quota denial is permanent, transport
// errors are retried with capped exponential backoff inside the call.
type SlackNudger struct {
	client         chatPoster
	quotas         *quota.Counters
	identities     *repository.IdentityRepository
	defaultChannel string
	logger         *logger.Logger
}

// NewSlackNudger creates the nudge_chat executor. The timeout bounds every
// outbound post.
func NewSlackNudger(botToken, defaultChannel string, timeout time.Duration, quotas *quota.Counters, identities *repository.IdentityRepository, log *logger.Logger) *SlackNudger {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	var client chatPoster
	if botToken != "" {
		client = slack.New(botToken, slack.OptionHTTPClient(&http.Client{Timeout: timeout}))
	}
	return &SlackNudger{
		client:         client,
		quotas:         quotas,
		identities:     identities,
		defaultChannel: defaultChannel,
		logger:         log,
	}
}

// Action implements Executor
func (s *SlackNudger) Action() string { return "nudge_chat" }

// Execute posts the nudge
func (s *SlackNudger) Execute(ctx context.Context, job *models.WorkflowJob) (*Result, error) {
	if s.client == nil {
		return nil, apperrors.New(apperrors.KindValidation, "slack bot token not configured")
	}

	channel := contextString(job, "channel")
	if channel == "" {
		channel = s.defaultChannel
	}
	if channel == "" {
		return nil, apperrors.New(apperrors.KindValidation, "no slack channel for nudge")
	}

	if err := s.quotas.Consume(quota.KindSlackPosts); err != nil {
		return nil, err
	}

	text := s.composeText(ctx, job)

	var timestamp string
	backoff := retry.WithMaxRetries(3, retry.NewExponential(500*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		_, ts, err := s.client.PostMessageContext(ctx, channel, slack.MsgOptionText(text, false))
		if err != nil {
			if isTransientSlackError(err) {
				return retry.RetryableError(err)
			}
			return err
		}
		timestamp = ts
		return nil
	})
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindUnavailable, "failed to post slack message")
	}

	return &Result{Detail: map[string]interface{}{
		"channel":   channel,
		"timestamp": timestamp,
	}}, nil
}

// composeText builds the message, mentioning the mapped user when the match
// author resolves through the identity table.
func (s *SlackNudger) composeText(ctx context.Context, job *models.WorkflowJob) string {
	text := contextString(job, "message")
	if text == "" {
		text = fmt.Sprintf("Heads up: %s needs attention (%s)", job.Subject, job.RuleKind)
	}

	author := contextString(job, "author")
	if author == "" || s.identities == nil {
		return text
	}

	identity, err := s.identities.Lookup(ctx, "github", author)
	if err != nil {
		return text
	}
	return fmt.Sprintf("<@%s> %s", identity.UserID, text)
}

func isTransientSlackError(err error) bool {
	var rateLimited *slack.RateLimitedError
	if errors.As(err, &rateLimited) {
		return true
	}
	// API-level refusals (unknown channel, revoked token) are permanent;
	// anything else is transport noise worth retrying.
	var slackErr slack.SlackErrorResponse
	return !errors.As(err, &slackErr)
}

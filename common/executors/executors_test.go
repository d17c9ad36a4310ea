package executors

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-github/v56/github"
	"github.com/slack-go/slack"

	"github.com/opsrelay/opsrelay/common/apperrors"
	"github.com/opsrelay/opsrelay/common/logger"
	"github.com/opsrelay/opsrelay/common/models"
	"github.com/opsrelay/opsrelay/common/quota"
)

func testJob(action, subject string, jobCtx map[string]interface{}) *models.WorkflowJob {
	return &models.WorkflowJob{
		ID:       1,
		RuleKind: "stale_pr",
		Subject:  subject,
		Action:   action,
		Payload:  map[string]interface{}{"context": jobCtx},
	}
}

type fakePoster struct {
	calls    int
	channels []string
	texts    []string
	errs     []error
}

func (f *fakePoster) PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error) {
	f.calls++
	f.channels = append(f.channels, channelID)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return "", "", err
		}
	}
	return channelID, "1724600000.000100", nil
}

func TestSlackNudgerPostsToContextChannel(t *testing.T) {
	poster := &fakePoster{}
	nudger := &SlackNudger{
		client:         poster,
		quotas:         quota.New(map[string]int{quota.KindSlackPosts: 10}, nil),
		defaultChannel: "#eng-ops",
		logger:         logger.New("error", "text"),
	}

	job := testJob("nudge_chat", "pr:42", map[string]interface{}{"channel": "#platform"})
	result, err := nudger.Execute(context.Background(), job)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if poster.calls != 1 || poster.channels[0] != "#platform" {
		t.Errorf("posted %d times to %v", poster.calls, poster.channels)
	}
	if result.Detail["channel"] != "#platform" {
		t.Errorf("result detail = %+v", result.Detail)
	}

	// No channel in the context: fall back to the configured default
	if _, err := nudger.Execute(context.Background(), testJob("nudge_chat", "pr:43", nil)); err != nil {
		t.Fatalf("Execute with default channel: %v", err)
	}
	if poster.channels[1] != "#eng-ops" {
		t.Errorf("second post went to %q", poster.channels[1])
	}
}

func TestSlackNudgerQuotaDenialIsPermanent(t *testing.T) {
	poster := &fakePoster{}
	nudger := &SlackNudger{
		client:         poster,
		quotas:         quota.New(map[string]int{quota.KindSlackPosts: 1}, nil),
		defaultChannel: "#eng-ops",
		logger:         logger.New("error", "text"),
	}

	if _, err := nudger.Execute(context.Background(), testJob("nudge_chat", "pr:1", nil)); err != nil {
		t.Fatalf("first Execute: %v", err)
	}

	_, err := nudger.Execute(context.Background(), testJob("nudge_chat", "pr:2", nil))
	if !quota.IsExceeded(err) {
		t.Fatalf("expected quota denial, got %v", err)
	}
	if apperrors.IsTransient(err) {
		t.Error("quota denial must not be transient")
	}
	if poster.calls != 1 {
		t.Errorf("denied nudge still posted, calls = %d", poster.calls)
	}
}

func TestSlackNudgerRetriesTransportErrors(t *testing.T) {
	poster := &fakePoster{errs: []error{errors.New("connection reset"), nil}}
	nudger := &SlackNudger{
		client:         poster,
		quotas:         quota.New(nil, nil),
		defaultChannel: "#eng-ops",
		logger:         logger.New("error", "text"),
	}

	if _, err := nudger.Execute(context.Background(), testJob("nudge_chat", "pr:1", nil)); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if poster.calls != 2 {
		t.Errorf("calls = %d, want 2 (one retry)", poster.calls)
	}
}

func TestSlackNudgerWithoutClient(t *testing.T) {
	nudger := &SlackNudger{
		quotas: quota.New(nil, nil),
		logger: logger.New("error", "text"),
	}
	_, err := nudger.Execute(context.Background(), testJob("nudge_chat", "pr:1", nil))
	if apperrors.KindOf(err) != apperrors.KindValidation {
		t.Errorf("err = %v", err)
	}
}

type fakeGitHub struct {
	reviewers []string
	comments  []string
	labels    []string
	issues    int
	err       error
}

func (f *fakeGitHub) RequestReviewers(ctx context.Context, owner, repo string, number int, req github.ReviewersRequest) error {
	f.reviewers = append(f.reviewers, req.Reviewers...)
	return f.err
}

func (f *fakeGitHub) CreateComment(ctx context.Context, owner, repo string, number int, body string) error {
	f.comments = append(f.comments, body)
	return f.err
}

func (f *fakeGitHub) CreateIssue(ctx context.Context, owner, repo string, req *github.IssueRequest) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.issues++
	return 100 + f.issues, nil
}

func (f *fakeGitHub) AddLabels(ctx context.Context, owner, repo string, number int, labels []string) error {
	f.labels = append(f.labels, labels...)
	return f.err
}

func TestReviewerAssigner(t *testing.T) {
	api := &fakeGitHub{}
	assigner := NewReviewerAssigner(api)

	job := testJob("assign_reviewer", "pr:42", map[string]interface{}{
		"repo":      "platform/api",
		"reviewers": []interface{}{"alice", "bob"},
	})
	result, err := assigner.Execute(context.Background(), job)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(api.reviewers) != 2 {
		t.Errorf("requested reviewers = %v", api.reviewers)
	}
	if result.Detail["pr"] != 42 {
		t.Errorf("result detail = %+v", result.Detail)
	}

	// Missing reviewers is a permanent failure
	_, err = assigner.Execute(context.Background(), testJob("assign_reviewer", "pr:42", map[string]interface{}{"repo": "platform/api"}))
	if apperrors.KindOf(err) != apperrors.KindValidation {
		t.Errorf("err without reviewers = %v", err)
	}
}

func TestLabelerDefaultsToRuleKind(t *testing.T) {
	api := &fakeGitHub{}
	labeler := NewLabeler(api)

	job := testJob("label", "pr:7", map[string]interface{}{"repo": "platform/api"})
	if _, err := labeler.Execute(context.Background(), job); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(api.labels) != 1 || api.labels[0] != "stale-pr" {
		t.Errorf("labels = %v, want [stale-pr]", api.labels)
	}
}

func TestIssueCreator(t *testing.T) {
	api := &fakeGitHub{}
	creator := NewIssueCreator(api)

	job := testJob("issue_create", "repo:platform/api", map[string]interface{}{
		"repo":  "platform/api",
		"title": "Clean up stale branches",
	})
	result, err := creator.Execute(context.Background(), job)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Detail["issue"] != 101 {
		t.Errorf("result detail = %+v", result.Detail)
	}
}

func TestGitHubExecutorsWithoutToken(t *testing.T) {
	job := testJob("comment_summary", "pr:1", map[string]interface{}{"repo": "platform/api"})
	_, err := NewSummaryCommenter(nil).Execute(context.Background(), job)
	if apperrors.KindOf(err) != apperrors.KindValidation {
		t.Errorf("err = %v", err)
	}
}

func TestRegistryDispatch(t *testing.T) {
	registry := NewRegistry()
	api := &fakeGitHub{}
	registry.Register(NewSummaryCommenter(api))

	job := testJob("comment_summary", "pr:3", map[string]interface{}{
		"repo":    "platform/api",
		"summary": "flagged for review",
	})
	if _, err := registry.Dispatch(context.Background(), job); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(api.comments) != 1 || api.comments[0] != "flagged for review" {
		t.Errorf("comments = %v", api.comments)
	}

	_, err := registry.Dispatch(context.Background(), testJob("force_push", "pr:3", nil))
	if apperrors.KindOf(err) != apperrors.KindValidation {
		t.Errorf("unknown action err = %v", err)
	}
}

func TestSubjectPRNumber(t *testing.T) {
	if n, err := subjectPRNumber(testJob("x", "pr:42", nil)); err != nil || n != 42 {
		t.Errorf("pr:42 = %d, %v", n, err)
	}

	// Subject without a pr prefix falls back to the match context
	job := testJob("x", "repo:platform/api", map[string]interface{}{"pr_number": "17"})
	if n, err := subjectPRNumber(job); err != nil || n != 17 {
		t.Errorf("context fallback = %d, %v", n, err)
	}

	if _, err := subjectPRNumber(testJob("x", "repo:platform/api", nil)); err == nil {
		t.Error("missing number accepted")
	}
}

func TestSplitRepo(t *testing.T) {
	owner, name, err := splitRepo("platform/api")
	if err != nil || owner != "platform" || name != "api" {
		t.Errorf("splitRepo = %q/%q, %v", owner, name, err)
	}
	if _, _, err := splitRepo("no-slash"); err == nil {
		t.Error("malformed repo accepted")
	}
	if _, _, err := splitRepo("/api"); err == nil {
		t.Error("empty owner accepted")
	}
}

func TestIsTransientSlackError(t *testing.T) {
	if !isTransientSlackError(&slack.RateLimitedError{}) {
		t.Error("rate limit should be transient")
	}
	if isTransientSlackError(slack.SlackErrorResponse{Err: "channel_not_found"}) {
		t.Error("API refusal should be permanent")
	}
	if !isTransientSlackError(errors.New("read: connection reset by peer")) {
		t.Error("transport error should be transient")
	}
}

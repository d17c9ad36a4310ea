package executors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/go-github/v56/github"
	"golang.org/x/oauth2"

	"github.com/opsrelay/opsrelay/common/apperrors"
	"github.com/opsrelay/opsrelay/common/models"
)

// GitHubAPI is the slice of the GitHub client the executors use
type GitHubAPI interface {
	RequestReviewers(ctx context.Context, owner, repo string, number int, reviewers github.ReviewersRequest) error
	CreateComment(ctx context.Context, owner, repo string, number int, body string) error
	CreateIssue(ctx context.Context, owner, repo string, req *github.IssueRequest) (int, error)
	AddLabels(ctx context.Context, owner, repo string, number int, labels []string) error
}

type githubClient struct {
	client *github.Client
}

func (g *githubClient) RequestReviewers(ctx context.Context, owner, repo string, number int, reviewers github.ReviewersRequest) error {
	_, _, err := g.client.PullRequests.RequestReviewers(ctx, owner, repo, number, reviewers)
	return err
}

func (g *githubClient) CreateComment(ctx context.Context, owner, repo string, number int, body string) error {
	comment := &github.IssueComment{Body: github.String(body)}
	_, _, err := g.client.Issues.CreateComment(ctx, owner, repo, number, comment)
	return err
}

func (g *githubClient) CreateIssue(ctx context.Context, owner, repo string, req *github.IssueRequest) (int, error) {
	issue, _, err := g.client.Issues.Create(ctx, owner, repo, req)
	if err != nil {
		return 0, err
	}
	return issue.GetNumber(), nil
}

func (g *githubClient) AddLabels(ctx context.Context, owner, repo string, number int, labels []string) error {
	_, _, err := g.client.Issues.AddLabelsToIssue(ctx, owner, repo, number, labels)
	return err
}

// NewGitHubAPI builds the real client from a token. The timeout bounds every
// outbound call.
func NewGitHubAPI(ctx context.Context, token string, timeout time.Duration) GitHubAPI {
	if token == "" {
		return nil
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	hc := oauth2.NewClient(ctx, ts)
	hc.Timeout = timeout
	return &githubClient{client: github.NewClient(hc)}
}

// wrapGitHubError classifies a GitHub API failure for the retry machinery
func wrapGitHubError(err error, detail string) error {
	var rateLimit *github.RateLimitError
	if errors.As(err, &rateLimit) {
		return apperrors.Wrap(err, apperrors.KindUnavailable, detail)
	}
	var apiErr *github.ErrorResponse
	if errors.As(err, &apiErr) && apiErr.Response != nil && apiErr.Response.StatusCode < 500 {
		return apperrors.Wrap(err, apperrors.KindValidation, detail)
	}
	return apperrors.Wrap(err, apperrors.KindUnavailable, detail)
}

// jobRepo resolves the target repository for a job
func jobRepo(job *models.WorkflowJob) (string, string, error) {
	full := contextString(job, "repo")
	if full == "" {
		return "", "", apperrors.New(apperrors.KindValidation, "match context has no repo reference")
	}
	return splitRepo(full)
}

// ReviewerAssigner requests reviewers on a pull request
type ReviewerAssigner struct {
	api GitHubAPI
}

// NewReviewerAssigner creates the assign_reviewer executor
func NewReviewerAssigner(api GitHubAPI) *ReviewerAssigner {
	return &ReviewerAssigner{api: api}
}

// Action implements Executor
func (r *ReviewerAssigner) Action() string { return "assign_reviewer" }

// Execute implements Executor
func (r *ReviewerAssigner) Execute(ctx context.Context, job *models.WorkflowJob) (*Result, error) {
	if r.api == nil {
		return nil, apperrors.New(apperrors.KindValidation, "github token not configured")
	}

	owner, repo, err := jobRepo(job)
	if err != nil {
		return nil, err
	}
	number, err := subjectPRNumber(job)
	if err != nil {
		return nil, err
	}

	reviewers := contextStrings(job, "reviewers")
	if len(reviewers) == 0 {
		return nil, apperrors.New(apperrors.KindValidation, "no reviewers to assign")
	}

	if err := r.api.RequestReviewers(ctx, owner, repo, number, github.ReviewersRequest{Reviewers: reviewers}); err != nil {
		return nil, wrapGitHubError(err, "failed to request reviewers")
	}

	return &Result{Detail: map[string]interface{}{
		"repo":      owner + "/" + repo,
		"pr":        number,
		"reviewers": reviewers,
	}}, nil
}

// SummaryCommenter posts a comment on a pull request
type SummaryCommenter struct {
	api GitHubAPI
}

// NewSummaryCommenter creates the comment_summary executor
func NewSummaryCommenter(api GitHubAPI) *SummaryCommenter {
	return &SummaryCommenter{api: api}
}

// Action implements Executor
func (c *SummaryCommenter) Action() string { return "comment_summary" }

// Execute implements Executor
func (c *SummaryCommenter) Execute(ctx context.Context, job *models.WorkflowJob) (*Result, error) {
	if c.api == nil {
		return nil, apperrors.New(apperrors.KindValidation, "github token not configured")
	}

	owner, repo, err := jobRepo(job)
	if err != nil {
		return nil, err
	}
	number, err := subjectPRNumber(job)
	if err != nil {
		return nil, err
	}

	body := contextString(job, "summary")
	if body == "" {
		body = fmt.Sprintf("This pull request was flagged by rule `%s`.", job.RuleKind)
	}

	if err := c.api.CreateComment(ctx, owner, repo, number, body); err != nil {
		return nil, wrapGitHubError(err, "failed to post comment")
	}

	return &Result{Detail: map[string]interface{}{
		"repo": owner + "/" + repo,
		"pr":   number,
	}}, nil
}

// IssueCreator opens an issue in the target tracker
type IssueCreator struct {
	api GitHubAPI
}

// NewIssueCreator creates the issue_create executor
func NewIssueCreator(api GitHubAPI) *IssueCreator {
	return &IssueCreator{api: api}
}

// Action implements Executor
func (i *IssueCreator) Action() string { return "issue_create" }

// Execute implements Executor
func (i *IssueCreator) Execute(ctx context.Context, job *models.WorkflowJob) (*Result, error) {
	if i.api == nil {
		return nil, apperrors.New(apperrors.KindValidation, "github token not configured")
	}

	owner, repo, err := jobRepo(job)
	if err != nil {
		return nil, err
	}

	title := contextString(job, "title")
	if title == "" {
		title = fmt.Sprintf("Follow up on %s (%s)", job.Subject, job.RuleKind)
	}
	body := contextString(job, "body")

	req := &github.IssueRequest{Title: github.String(title)}
	if body != "" {
		req.Body = github.String(body)
	}
	if labels := contextStrings(job, "labels"); len(labels) > 0 {
		req.Labels = &labels
	}

	number, err := i.api.CreateIssue(ctx, owner, repo, req)
	if err != nil {
		return nil, wrapGitHubError(err, "failed to create issue")
	}

	return &Result{Detail: map[string]interface{}{
		"repo":  owner + "/" + repo,
		"issue": number,
	}}, nil
}

// Labeler applies labels to a pull request or issue
type Labeler struct {
	api GitHubAPI
}

// NewLabeler creates the label executor
func NewLabeler(api GitHubAPI) *Labeler {
	return &Labeler{api: api}
}

// Action implements Executor
func (l *Labeler) Action() string { return "label" }

// Execute implements Executor
func (l *Labeler) Execute(ctx context.Context, job *models.WorkflowJob) (*Result, error) {
	if l.api == nil {
		return nil, apperrors.New(apperrors.KindValidation, "github token not configured")
	}

	owner, repo, err := jobRepo(job)
	if err != nil {
		return nil, err
	}
	number, err := subjectPRNumber(job)
	if err != nil {
		return nil, err
	}

	labels := contextStrings(job, "labels")
	if len(labels) == 0 {
		labels = []string{strings.ReplaceAll(job.RuleKind, "_", "-")}
	}

	if err := l.api.AddLabels(ctx, owner, repo, number, labels); err != nil {
		return nil, wrapGitHubError(err, "failed to apply labels")
	}

	return &Result{Detail: map[string]interface{}{
		"repo":   owner + "/" + repo,
		"target": number,
		"labels": labels,
	}}, nil
}

// contextStrings reads a string list from the match context
func contextStrings(job *models.WorkflowJob, key string) []string {
	raw, ok := jobContext(job)[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

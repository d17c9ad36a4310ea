package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/opsrelay/opsrelay/common/db"
	"github.com/opsrelay/opsrelay/common/models"
)

// SignalQueryRepository runs the kind-specific queries behind signal rules.
// Each query is a deterministic function of (parameters, now) over the raw
// event feed.
type SignalQueryRepository struct {
	db *db.DB
}

// NewSignalQueryRepository creates a new signal query repository
func NewSignalQueryRepository(db *db.DB) *SignalQueryRepository {
	return &SignalQueryRepository{db: db}
}

// StalePRs finds pull requests opened but neither merged nor closed whose
// latest activity is older than the threshold
func (r *SignalQueryRepository) StalePRs(ctx context.Context, olderThan time.Duration) ([]models.SignalMatch, error) {
	query := `
		WITH pr_events AS (
			SELECT payload::jsonb -> 'pull_request' ->> 'number' AS pr_number,
			       payload::jsonb ->> 'action' AS action,
			       payload::jsonb -> 'pull_request' -> 'user' ->> 'login' AS author,
			       payload::jsonb -> 'pull_request' ->> 'title' AS title,
			       received_at
			FROM events
			WHERE source = 'github' AND event_type = 'pull_request'
			  AND payload::jsonb -> 'pull_request' ->> 'number' IS NOT NULL
		)
		SELECT pr_number,
		       max(author) FILTER (WHERE action = 'opened') AS author,
		       max(title) FILTER (WHERE action = 'opened') AS title,
		       max(received_at) AS last_seen
		FROM pr_events
		GROUP BY pr_number
		HAVING bool_or(action = 'opened')
		   AND NOT bool_or(action = 'closed')
		   AND max(received_at) < now() - $1
	`

	rows, err := r.db.Query(ctx, query, olderThan)
	if err != nil {
		return nil, fmt.Errorf("failed to query stale PRs: %w", err)
	}
	defer rows.Close()

	var matches []models.SignalMatch
	for rows.Next() {
		var prNumber string
		var author, title *string
		var lastSeen time.Time
		if err := rows.Scan(&prNumber, &author, &title, &lastSeen); err != nil {
			return nil, fmt.Errorf("failed to scan stale PR: %w", err)
		}
		matches = append(matches, models.SignalMatch{
			Subject: "pr:" + prNumber,
			Context: map[string]interface{}{
				"pr_number":  prNumber,
				"author":     strOrEmpty(author),
				"title":      strOrEmpty(title),
				"last_seen":  lastSeen.UTC().Format(time.RFC3339),
				"idle_hours": time.Since(lastSeen).Hours(),
			},
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stale PRs: %w", err)
	}
	return matches, nil
}

// PRsWithoutReview finds open pull requests older than the threshold with no
// review activity
func (r *SignalQueryRepository) PRsWithoutReview(ctx context.Context, olderThan time.Duration) ([]models.SignalMatch, error) {
	query := `
		WITH opened AS (
			SELECT payload::jsonb -> 'pull_request' ->> 'number' AS pr_number,
			       payload::jsonb -> 'pull_request' -> 'user' ->> 'login' AS author,
			       min(received_at) AS opened_at
			FROM events
			WHERE source = 'github' AND event_type = 'pull_request'
			  AND payload::jsonb ->> 'action' = 'opened'
			GROUP BY 1, 2
		), closed AS (
			SELECT DISTINCT payload::jsonb -> 'pull_request' ->> 'number' AS pr_number
			FROM events
			WHERE source = 'github' AND event_type = 'pull_request'
			  AND payload::jsonb ->> 'action' = 'closed'
		), reviewed AS (
			SELECT DISTINCT payload::jsonb -> 'pull_request' ->> 'number' AS pr_number
			FROM events
			WHERE source = 'github' AND event_type IN ('pull_request_review', 'pull_request_review_comment')
		)
		SELECT o.pr_number, o.author, o.opened_at
		FROM opened o
		LEFT JOIN closed c ON c.pr_number = o.pr_number
		LEFT JOIN reviewed rv ON rv.pr_number = o.pr_number
		WHERE c.pr_number IS NULL AND rv.pr_number IS NULL
		  AND o.opened_at < now() - $1
	`

	rows, err := r.db.Query(ctx, query, olderThan)
	if err != nil {
		return nil, fmt.Errorf("failed to query unreviewed PRs: %w", err)
	}
	defer rows.Close()

	var matches []models.SignalMatch
	for rows.Next() {
		var prNumber string
		var author *string
		var openedAt time.Time
		if err := rows.Scan(&prNumber, &author, &openedAt); err != nil {
			return nil, fmt.Errorf("failed to scan unreviewed PR: %w", err)
		}
		matches = append(matches, models.SignalMatch{
			Subject: "pr:" + prNumber,
			Context: map[string]interface{}{
				"pr_number": prNumber,
				"author":    strOrEmpty(author),
				"opened_at": openedAt.UTC().Format(time.RFC3339),
				"age_hours": time.Since(openedAt).Hours(),
			},
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating unreviewed PRs: %w", err)
	}
	return matches, nil
}

// WIPOverLimit finds assignees carrying more than limit in-progress issues,
// derived from the latest tracker event per issue
func (r *SignalQueryRepository) WIPOverLimit(ctx context.Context, limit int) ([]models.SignalMatch, error) {
	query := `
		WITH latest AS (
			SELECT DISTINCT ON (issue_key) issue_key, assignee, status
			FROM (
				SELECT COALESCE(payload::jsonb -> 'issue' ->> 'key',
				                payload::jsonb -> 'data' ->> 'id') AS issue_key,
				       COALESCE(payload::jsonb -> 'issue' -> 'fields' -> 'assignee' ->> 'displayName',
				                payload::jsonb -> 'data' -> 'assignee' ->> 'name') AS assignee,
				       COALESCE(payload::jsonb -> 'issue' -> 'fields' -> 'status' ->> 'name',
				                payload::jsonb -> 'data' -> 'state' ->> 'name') AS status,
				       received_at
				FROM events
				WHERE source IN ('jira', 'linear', 'shortcut')
			) issue_events
			WHERE issue_key IS NOT NULL
			ORDER BY issue_key, received_at DESC
		)
		SELECT assignee, count(*) AS wip
		FROM latest
		WHERE assignee IS NOT NULL AND lower(status) IN ('in progress', 'started', 'in review')
		GROUP BY assignee
		HAVING count(*) > $1
	`

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query WIP counts: %w", err)
	}
	defer rows.Close()

	var matches []models.SignalMatch
	for rows.Next() {
		var assignee string
		var wip int64
		if err := rows.Scan(&assignee, &wip); err != nil {
			return nil, fmt.Errorf("failed to scan WIP count: %w", err)
		}
		matches = append(matches, models.SignalMatch{
			Subject: "assignee:" + assignee,
			Context: map[string]interface{}{
				"assignee": assignee,
				"wip":      wip,
				"limit":    limit,
			},
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating WIP counts: %w", err)
	}
	return matches, nil
}

// PRsWithoutTicketLink finds open pull requests whose title and body both
// lack a tracker reference matching pattern (a Postgres regex)
func (r *SignalQueryRepository) PRsWithoutTicketLink(ctx context.Context, pattern string) ([]models.SignalMatch, error) {
	query := `
		WITH opened AS (
			SELECT payload::jsonb -> 'pull_request' ->> 'number' AS pr_number,
			       payload::jsonb -> 'pull_request' ->> 'title' AS title,
			       COALESCE(payload::jsonb -> 'pull_request' ->> 'body', '') AS body
			FROM events
			WHERE source = 'github' AND event_type = 'pull_request'
			  AND payload::jsonb ->> 'action' = 'opened'
		), closed AS (
			SELECT DISTINCT payload::jsonb -> 'pull_request' ->> 'number' AS pr_number
			FROM events
			WHERE source = 'github' AND event_type = 'pull_request'
			  AND payload::jsonb ->> 'action' = 'closed'
		)
		SELECT o.pr_number, o.title
		FROM opened o
		LEFT JOIN closed c ON c.pr_number = o.pr_number
		WHERE c.pr_number IS NULL
		  AND o.title !~ $1 AND o.body !~ $1
	`

	rows, err := r.db.Query(ctx, query, pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to query unlinked PRs: %w", err)
	}
	defer rows.Close()

	var matches []models.SignalMatch
	for rows.Next() {
		var prNumber string
		var title *string
		if err := rows.Scan(&prNumber, &title); err != nil {
			return nil, fmt.Errorf("failed to scan unlinked PR: %w", err)
		}
		matches = append(matches, models.SignalMatch{
			Subject: "pr:" + prNumber,
			Context: map[string]interface{}{
				"pr_number":      prNumber,
				"title":          strOrEmpty(title),
				"ticket_pattern": pattern,
			},
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating unlinked PRs: %w", err)
	}
	return matches, nil
}

func strOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

package webhook

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/opsrelay/opsrelay/common/apperrors"
	"github.com/opsrelay/opsrelay/common/config"
)

// Request carries everything a source descriptor needs from the raw HTTP
// request. Body is the full raw payload; handlers read it once and pass it
// down so signature verification sees exactly the bytes on the wire.
type Request struct {
	Headers http.Header
	Body    []byte
	Now     time.Time
}

// Source describes how to interpret one integration's webhook deliveries:
// how the event type and idempotency key are derived, and how deliveries
// are authenticated when a secret is configured.
type Source struct {
	Name string

	// EventType derives the event type for the record. Empty means the
	// handler falls back to the source name.
	EventType func(req Request) string

	// DeliveryID derives or synthesizes the idempotency key. Empty means
	// the handler synthesizes one from the payload digest.
	DeliveryID func(req Request) string

	// SignatureHeader names the header persisted as the raw signature,
	// when the source signs deliveries.
	SignatureHeader string

	// Verify authenticates the delivery. Nil when the source has no
	// signing scheme or the secret is not configured.
	Verify func(req Request) error

	// Challenge returns (challenge, true) for handshake requests that
	// must be echoed without persisting a record.
	Challenge func(req Request) (string, bool)
}

// Registry resolves source names to descriptors. Secrets are bound at
// construction so descriptors stay pure functions of the request.
type Registry struct {
	sources map[string]*Source
}

// NewRegistry builds descriptors for every known source using the configured
// secrets. A source whose secret is empty gets a nil Verify and accepts
// unsigned deliveries.
func NewRegistry(secrets config.SecretsConfig) *Registry {
	r := &Registry{sources: make(map[string]*Source)}

	r.register(&Source{
		Name:            "github",
		EventType:       headerValue("X-GitHub-Event"),
		DeliveryID:      headerValue("X-GitHub-Delivery"),
		SignatureHeader: "X-Hub-Signature-256",
		Verify: whenSecret(secrets.GitHubWebhookSecret, func(req Request) error {
			return verifyHMACHeader(req.Headers.Get("X-Hub-Signature-256"), "sha256=", secrets.GitHubWebhookSecret, req.Body)
		}),
	})

	r.register(&Source{
		Name:            "gitlab",
		EventType:       headerValue("X-Gitlab-Event"),
		DeliveryID:      headerValue("X-Gitlab-Event-UUID"),
		SignatureHeader: "X-Gitlab-Token",
		Verify: whenSecret(secrets.GitLabWebhookToken, func(req Request) error {
			return verifySharedToken(req.Headers.Get("X-Gitlab-Token"), secrets.GitLabWebhookToken)
		}),
	})

	r.register(&Source{
		Name: "jira",
		EventType: func(req Request) string {
			return gjson.GetBytes(req.Body, "webhookEvent").String()
		},
		DeliveryID:      headerValue("X-Atlassian-Webhook-Identifier"),
		SignatureHeader: "X-Hub-Signature",
		Verify: whenSecret(secrets.JiraSharedSecret, func(req Request) error {
			return verifyHMACHeader(req.Headers.Get("X-Hub-Signature"), "sha256=", secrets.JiraSharedSecret, req.Body)
		}),
	})

	r.register(&Source{
		Name: "linear",
		EventType: func(req Request) string {
			return joinNonEmpty(":",
				gjson.GetBytes(req.Body, "type").String(),
				gjson.GetBytes(req.Body, "action").String())
		},
		DeliveryID: func(req Request) string {
			typ := gjson.GetBytes(req.Body, "type").String()
			action := gjson.GetBytes(req.Body, "action").String()
			id := gjson.GetBytes(req.Body, "data.id").String()
			if typ == "" && action == "" && id == "" {
				return ""
			}
			return fmt.Sprintf("linear-%s-%s-%s", typ, action, id)
		},
		SignatureHeader: "Linear-Signature",
		Verify: whenSecret(secrets.LinearWebhookSecret, func(req Request) error {
			return verifyHMACHeader(req.Headers.Get("Linear-Signature"), "", secrets.LinearWebhookSecret, req.Body)
		}),
	})

	r.register(&Source{
		Name: "pagerduty",
		EventType: func(req Request) string {
			return gjson.GetBytes(req.Body, "event.event_type").String()
		},
		DeliveryID: func(req Request) string {
			id := gjson.GetBytes(req.Body, "event.id").String()
			if id == "" {
				return ""
			}
			return "pd-" + id
		},
		SignatureHeader: "X-PagerDuty-Signature",
		Verify: whenSecret(secrets.PagerDutyWebhookSecret, func(req Request) error {
			return verifyHMACHeader(req.Headers.Get("X-PagerDuty-Signature"), "v1=", secrets.PagerDutyWebhookSecret, req.Body)
		}),
	})

	r.register(&Source{
		Name: "slack",
		EventType: func(req Request) string {
			if t := gjson.GetBytes(req.Body, "event.type").String(); t != "" {
				return t
			}
			return gjson.GetBytes(req.Body, "type").String()
		},
		DeliveryID: func(req Request) string {
			return gjson.GetBytes(req.Body, "event_id").String()
		},
		SignatureHeader: "X-Slack-Signature",
		Verify: whenSecret(secrets.SlackSigningSecret, func(req Request) error {
			return verifySlackSignature(
				req.Headers.Get("X-Slack-Signature"),
				req.Headers.Get("X-Slack-Request-Timestamp"),
				secrets.SlackSigningSecret, req.Body, req.Now)
		}),
		Challenge: urlVerificationChallenge,
	})

	r.register(&Source{
		Name: "datadog",
		EventType: func(req Request) string {
			if t := gjson.GetBytes(req.Body, "event_type").String(); t != "" {
				return t
			}
			return gjson.GetBytes(req.Body, "alert_type").String()
		},
		DeliveryID: func(req Request) string {
			id := gjson.GetBytes(req.Body, "id").String()
			if id == "" {
				id = gjson.GetBytes(req.Body, "alert_id").String()
			}
			if id == "" {
				return ""
			}
			return "datadog-" + id
		},
	})

	r.register(&Source{
		Name: "sentry",
		EventType: func(req Request) string {
			return joinNonEmpty(":",
				req.Headers.Get("Sentry-Hook-Resource"),
				gjson.GetBytes(req.Body, "action").String())
		},
		DeliveryID: func(req Request) string {
			id := gjson.GetBytes(req.Body, "data.issue.id").String()
			if id == "" {
				id = gjson.GetBytes(req.Body, "data.event.event_id").String()
			}
			if id == "" {
				return ""
			}
			return fmt.Sprintf("sentry-%s-%s", gjson.GetBytes(req.Body, "action").String(), id)
		},
		SignatureHeader: "Sentry-Hook-Signature",
	})

	r.register(&Source{
		Name:      "circleci",
		EventType: headerValue("Circleci-Event-Type"),
		DeliveryID: func(req Request) string {
			return gjson.GetBytes(req.Body, "id").String()
		},
		SignatureHeader: "Circleci-Signature",
	})

	r.register(&Source{
		Name: "jenkins",
		EventType: func(req Request) string {
			return gjson.GetBytes(req.Body, "build.phase").String()
		},
		DeliveryID: func(req Request) string {
			name := gjson.GetBytes(req.Body, "name").String()
			num := gjson.GetBytes(req.Body, "build.number").String()
			phase := gjson.GetBytes(req.Body, "build.phase").String()
			if name == "" && num == "" {
				return ""
			}
			return fmt.Sprintf("jenkins-%s-%s-%s", name, num, phase)
		},
	})

	r.register(&Source{
		Name: "kubernetes",
		EventType: func(req Request) string {
			return gjson.GetBytes(req.Body, "reason").String()
		},
		DeliveryID: func(req Request) string {
			uid := gjson.GetBytes(req.Body, "metadata.uid").String()
			if uid == "" {
				return ""
			}
			return fmt.Sprintf("k8s-%s-%s", uid, gjson.GetBytes(req.Body, "metadata.resourceVersion").String())
		},
	})

	r.register(&Source{
		Name: "argocd",
		EventType: func(req Request) string {
			return gjson.GetBytes(req.Body, "action").String()
		},
		DeliveryID: func(req Request) string {
			app := gjson.GetBytes(req.Body, "application.metadata.name").String()
			rev := gjson.GetBytes(req.Body, "application.status.sync.revision").String()
			if app == "" {
				return ""
			}
			return fmt.Sprintf("argocd-%s-%s-%s", app, gjson.GetBytes(req.Body, "action").String(), rev)
		},
	})

	r.register(&Source{
		Name: "ecs",
		EventType: func(req Request) string {
			return gjson.GetBytes(req.Body, "detail-type").String()
		},
		DeliveryID: func(req Request) string {
			return gjson.GetBytes(req.Body, "id").String()
		},
	})

	r.register(&Source{
		Name: "heroku",
		EventType: func(req Request) string {
			return joinNonEmpty(":",
				gjson.GetBytes(req.Body, "resource").String(),
				gjson.GetBytes(req.Body, "action").String())
		},
		DeliveryID: func(req Request) string {
			return gjson.GetBytes(req.Body, "id").String()
		},
		SignatureHeader: "Heroku-Webhook-Hmac-SHA256",
	})

	r.register(&Source{
		Name: "codecov",
		EventType: func(req Request) string {
			return gjson.GetBytes(req.Body, "event").String()
		},
		DeliveryID: func(req Request) string {
			commit := gjson.GetBytes(req.Body, "commit.commitid").String()
			if commit == "" {
				return ""
			}
			return fmt.Sprintf("codecov-%s-%s", gjson.GetBytes(req.Body, "event").String(), commit)
		},
	})

	r.register(&Source{
		Name: "sonarqube",
		EventType: func(req Request) string {
			return gjson.GetBytes(req.Body, "qualityGate.status").String()
		},
		DeliveryID: func(req Request) string {
			project := gjson.GetBytes(req.Body, "project.key").String()
			analysed := gjson.GetBytes(req.Body, "analysedAt").String()
			if project == "" {
				return ""
			}
			return fmt.Sprintf("sonar-%s-%s", project, analysed)
		},
		SignatureHeader: "X-Sonar-Webhook-HMAC-SHA256",
		Verify: whenSecret(secrets.SonarQubeWebhookSecret, func(req Request) error {
			return verifyHMACHeader(req.Headers.Get("X-Sonar-Webhook-HMAC-SHA256"), "", secrets.SonarQubeWebhookSecret, req.Body)
		}),
	})

	r.register(&Source{
		Name: "newrelic",
		EventType: func(req Request) string {
			return gjson.GetBytes(req.Body, "current_state").String()
		},
		DeliveryID: func(req Request) string {
			id := gjson.GetBytes(req.Body, "incident_id").String()
			if id == "" {
				return ""
			}
			return fmt.Sprintf("newrelic-%s-%s", id, gjson.GetBytes(req.Body, "current_state").String())
		},
	})

	r.register(&Source{
		Name: "prometheus",
		EventType: func(req Request) string {
			switch gjson.GetBytes(req.Body, "status").String() {
			case "firing":
				return "alert_firing"
			case "resolved":
				return "alert_resolved"
			}
			return ""
		},
		DeliveryID: func(req Request) string {
			groupKey := gjson.GetBytes(req.Body, "groupKey").String()
			status := gjson.GetBytes(req.Body, "status").String()
			if groupKey == "" {
				return ""
			}
			return fmt.Sprintf("prom-%s-%s", shortDigest([]byte(groupKey)), status)
		},
		Verify: whenSecret(secrets.PrometheusBearerToken, func(req Request) error {
			token := strings.TrimPrefix(req.Headers.Get("Authorization"), "Bearer ")
			return verifySharedToken(token, secrets.PrometheusBearerToken)
		}),
	})

	r.register(&Source{
		Name:       "cloudwatch",
		EventType:  cloudwatchEventType,
		DeliveryID: headerValue("X-Amz-Sns-Message-Id"),
	})

	r.register(&Source{
		Name: "shortcut",
		EventType: func(req Request) string {
			return joinNonEmpty(":",
				gjson.GetBytes(req.Body, "actions.0.entity_type").String(),
				gjson.GetBytes(req.Body, "actions.0.action").String())
		},
		DeliveryID: func(req Request) string {
			return gjson.GetBytes(req.Body, "id").String()
		},
		SignatureHeader: "Payload-Signature",
		Verify: whenSecret(secrets.ShortcutWebhookSecret, func(req Request) error {
			return verifyHMACHeader(req.Headers.Get("Payload-Signature"), "", secrets.ShortcutWebhookSecret, req.Body)
		}),
	})

	return r
}

// Lookup returns the descriptor for a source name, or a not-found error for
// unknown sources.
func (r *Registry) Lookup(name string) (*Source, error) {
	src, ok := r.sources[strings.ToLower(name)]
	if !ok {
		return nil, apperrors.New(apperrors.KindNotFound, fmt.Sprintf("unknown webhook source %q", name))
	}
	return src, nil
}

// Names lists the registered source names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.sources))
	for name := range r.sources {
		names = append(names, name)
	}
	return names
}

func (r *Registry) register(src *Source) {
	r.sources[src.Name] = src
}

// DeriveEventType applies the descriptor's derivation with a fallback to the
// source name so no record ever carries an empty event type.
func (s *Source) DeriveEventType(req Request) string {
	if s.EventType != nil {
		if t := s.EventType(req); t != "" {
			return t
		}
	}
	return s.Name
}

// DeriveDeliveryID applies the descriptor's derivation, synthesizing a
// digest-based key when the source supplies nothing usable. The synthesized
// key is stable for identical payloads, preserving idempotency.
func (s *Source) DeriveDeliveryID(req Request) string {
	if s.DeliveryID != nil {
		if id := s.DeliveryID(req); id != "" {
			return id
		}
	}
	return fmt.Sprintf("%s-%s", s.Name, shortDigest(req.Body))
}

// RawSignature returns the signature header value to persist, if any.
func (s *Source) RawSignature(req Request) string {
	if s.SignatureHeader == "" {
		return ""
	}
	return req.Headers.Get(s.SignatureHeader)
}

func headerValue(name string) func(Request) string {
	return func(req Request) string {
		return req.Headers.Get(name)
	}
}

// whenSecret gates a verifier on its secret being configured.
func whenSecret(secret string, verify func(Request) error) func(Request) error {
	if secret == "" {
		return nil
	}
	return verify
}

func urlVerificationChallenge(req Request) (string, bool) {
	if gjson.GetBytes(req.Body, "type").String() != "url_verification" {
		return "", false
	}
	challenge := gjson.GetBytes(req.Body, "challenge").String()
	return challenge, challenge != ""
}

func cloudwatchEventType(req Request) string {
	msgType := req.Headers.Get("X-Amz-Sns-Message-Type")
	if msgType == "SubscriptionConfirmation" {
		return "sns_subscription"
	}
	message := gjson.GetBytes(req.Body, "Message").String()
	if state := gjson.Get(message, "NewStateValue").String(); state != "" {
		return "alarm_" + strings.ToLower(state)
	}
	if detailType := gjson.Get(message, "detail-type").String(); detailType != "" {
		return "eventbridge_" + strings.ToLower(strings.ReplaceAll(detailType, " ", "_"))
	}
	return ""
}

func joinNonEmpty(sep string, parts ...string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, sep)
}

func shortDigest(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:8])
}

// internal/webhook/event.go
package webhook

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/go-github/v62/github"
	"github.com/santhosh-tekuri/jsonschema/v6"

	apperrors "github-agent-sync/internal/errors"
)

// Kind is a supported X-GitHub-Event value.
type Kind string

const (
	KindPush        Kind = "push"
	KindRelease     Kind = "release"
	KindRepository  Kind = "repository"
	KindStar        Kind = "star"
	KindFork        Kind = "fork"
	KindWatch       Kind = "watch"
	KindIssues      Kind = "issues"
	KindPullRequest Kind = "pull_request"
	KindPing        Kind = "ping"
)

// Kinds lists every supported kind in a stable order.
var Kinds = []Kind{
	KindPush, KindRelease, KindRepository, KindStar, KindFork,
	KindWatch, KindIssues, KindPullRequest, KindPing,
}

// ParseKind maps a header value onto a Kind.
func ParseKind(s string) (Kind, bool) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, true
		}
	}
	return "", false
}

func (k Kind) String() string {
	return string(k)
}

// Significant reports whether an event of this kind and action warrants a sync.
func (k Kind) Significant(action string) bool {
	switch k {
	case KindPush, KindStar, KindFork, KindWatch:
		return true
	case KindRelease:
		return action == "published" || action == "updated"
	case KindRepository:
		return action == "updated" || action == "publicized" || action == "privatized"
	case KindIssues, KindPullRequest, KindPing:
		return false
	}
	return false
}

// Event is a classified delivery.
type Event struct {
	Kind       Kind
	DeliveryID string
	Action     string
	Signature  string

	RepositoryID       int64
	RepositoryFullName string

	// Push only.
	Ref           string
	HeadSHA       string
	DefaultBranch string

	Sender string
}

// Significant reports whether the event should reach the gate.
func (e Event) Significant() bool {
	return e.Kind.Significant(e.Action)
}

// Branch returns the pushed branch name, or "" for tag pushes and other kinds.
func (e Event) Branch() string {
	name, ok := strings.CutPrefix(e.Ref, "refs/heads/")
	if !ok {
		return ""
	}
	return name
}

// Classifier turns raw deliveries into Events.
type Classifier struct {
	schema *jsonschema.Schema
}

func NewClassifier() (*Classifier, error) {
	schema, err := compileRepositorySchema()
	if err != nil {
		return nil, err
	}
	return &Classifier{schema: schema}, nil
}

// Classify parses headers and body. Rejections are *apperrors.RejectionError with status 400.
func (c *Classifier) Classify(headers http.Header, rawBody []byte) (Event, error) {
	eventType := headers.Get(github.EventTypeHeader)
	kind, ok := ParseKind(eventType)
	if !ok {
		return Event{}, apperrors.Reject(http.StatusBadRequest, "unsupported_event",
			fmt.Sprintf("Unsupported event type %q", eventType), nil)
	}

	ev := Event{
		Kind:       kind,
		DeliveryID: headers.Get(github.DeliveryIDHeader),
		Signature:  headers.Get(github.SHA256SignatureHeader),
	}
	if ev.DeliveryID == "" {
		return Event{}, apperrors.Reject(http.StatusBadRequest, "missing_delivery_id", "Missing delivery id", nil)
	}
	if kind == KindPing {
		return ev, nil
	}

	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(rawBody))
	if err != nil {
		return Event{}, apperrors.Reject(http.StatusBadRequest, "malformed_payload", "Payload is not valid JSON", err)
	}
	if err := c.schema.Validate(doc); err != nil {
		return Event{}, apperrors.Reject(http.StatusBadRequest, "missing_repository", "Missing repository information", err)
	}

	parsed, err := github.ParseWebHook(eventType, rawBody)
	if err != nil {
		return Event{}, apperrors.Reject(http.StatusBadRequest, "malformed_payload", "Payload does not match event type", err)
	}

	switch e := parsed.(type) {
	case *github.PushEvent:
		ev.RepositoryID = e.GetRepo().GetID()
		ev.RepositoryFullName = e.GetRepo().GetFullName()
		ev.Ref = e.GetRef()
		ev.HeadSHA = e.GetAfter()
		ev.DefaultBranch = e.GetRepo().GetDefaultBranch()
		ev.Sender = e.GetSender().GetLogin()
	case *github.ReleaseEvent:
		ev.Action = e.GetAction()
		setRepository(&ev, e.GetRepo(), e.GetSender())
	case *github.RepositoryEvent:
		ev.Action = e.GetAction()
		setRepository(&ev, e.GetRepo(), e.GetSender())
	case *github.StarEvent:
		ev.Action = e.GetAction()
		setRepository(&ev, e.GetRepo(), e.GetSender())
	case *github.ForkEvent:
		setRepository(&ev, e.GetRepo(), e.GetSender())
	case *github.WatchEvent:
		ev.Action = e.GetAction()
		setRepository(&ev, e.GetRepo(), e.GetSender())
	case *github.IssuesEvent:
		ev.Action = e.GetAction()
		setRepository(&ev, e.GetRepo(), e.GetSender())
	case *github.PullRequestEvent:
		ev.Action = e.GetAction()
		setRepository(&ev, e.GetRepo(), e.GetSender())
	default:
		return Event{}, apperrors.Reject(http.StatusBadRequest, "unsupported_event",
			fmt.Sprintf("Unsupported event type %q", eventType), nil)
	}
	return ev, nil
}

func setRepository(ev *Event, repo *github.Repository, sender *github.User) {
	ev.RepositoryID = repo.GetID()
	ev.RepositoryFullName = repo.GetFullName()
	ev.Sender = sender.GetLogin()
}

package ws

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/example/wash-hup/internal/apperr"
	"github.com/example/wash-hup/internal/fanout"
	"github.com/example/wash-hup/internal/models"
	"github.com/example/wash-hup/internal/storage"
)

const maxTextLen = 250

var textPattern = regexp.MustCompile(`^[a-zA-Z0-9\s?!.,'\-]+$`)

// Inbound is every message a client may send.
type Inbound struct {
	Action  string `json:"action"`
	Message string `json:"message"`
	WashID  string `json:"wash_id,omitempty"`
	IssueID string `json:"issue_id,omitempty"`
}

// Caller is the authenticated owner of the connection.
type Caller struct {
	UserID string
	Role   models.Role
	Name   string
}

// Outbound is what the server writes back on the same connection.
type Outbound struct {
	Type    string `json:"type"`
	Action  string `json:"action,omitempty"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// ActionFunc handles one action and returns the data to acknowledge with.
type ActionFunc func(ctx context.Context, c Caller, in Inbound) (any, error)

// Notifier is the part of the hub actions publish through.
type Notifier interface {
	Publish(ctx context.Context, ch fanout.Channel, v any) error
	Notify(ctx context.Context, userID string, v any) error
}

type Actions struct {
	repo  storage.Repo
	hub   Notifier
	now   func() time.Time
	table map[string]ActionFunc
}

func NewActions(repo storage.Repo, hub Notifier) *Actions {
	a := &Actions{repo: repo, hub: hub, now: time.Now}
	a.table = map[string]ActionFunc{
		"chat":        a.chat,
		"issue":       a.issue,
		"admin_issue": a.adminIssue,
	}
	return a
}

// Dispatch routes in to its action. Errors never close the connection.
func (a *Actions) Dispatch(ctx context.Context, c Caller, in Inbound) Outbound {
	if strings.TrimSpace(in.Action) == "" {
		return errorAck("", "No action.")
	}
	fn, ok := a.table[in.Action]
	if !ok {
		return errorAck(in.Action, "unknown action")
	}
	data, err := fn(ctx, c, in)
	if err != nil {
		ae := apperr.From(err)
		msg := ae.Message
		if ae.Kind == apperr.KindInternal {
			msg = "internal error"
		}
		return errorAck(in.Action, msg)
	}
	return Outbound{Type: "ack", Action: in.Action, Data: data}
}

func errorAck(action, msg string) Outbound {
	return Outbound{Type: "error", Action: action, Message: msg}
}

func validText(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" || len(s) > maxTextLen || !textPattern.MatchString(s) {
		return "", apperr.Validation("message must be 1-250 letters, digits or basic punctuation")
	}
	return s, nil
}

// chat relays a message between the two participants of a wash.
func (a *Actions) chat(ctx context.Context, c Caller, in Inbound) (any, error) {
	text, err := validText(in.Message)
	if err != nil {
		return nil, err
	}
	if in.WashID == "" {
		return nil, apperr.Validation("wash_id is required")
	}
	w, err := a.repo.GetWash(ctx, in.WashID)
	if err != nil {
		return nil, err
	}
	var to string
	switch {
	case w.OwnedBy(c.UserID):
		to = w.WasherID
	case w.AssignedTo(c.UserID):
		to = w.ClientID
	default:
		return nil, apperr.NotFound("wash")
	}
	if to == "" {
		return nil, apperr.InvalidState("wash has no washer yet")
	}
	m := &models.WashMessage{
		ID:          models.NewID(models.PrefixMessage),
		WashID:      w.ID,
		SenderID:    c.UserID,
		RecipientID: to,
		Body:        text,
		CreatedAt:   a.now().UTC(),
	}
	if err := a.repo.CreateWashMessage(ctx, m); err != nil {
		return nil, err
	}
	if err := a.hub.Notify(ctx, to, fanout.Event{Type: "chat", Data: m}); err != nil {
		return nil, err
	}
	return m, nil
}

// issue appends to the caller's open complaint and alerts admins.
func (a *Actions) issue(ctx context.Context, c Caller, in Inbound) (any, error) {
	if c.Role == models.RoleAdmin {
		return nil, apperr.Forbidden("admins reply with admin_issue")
	}
	text, err := validText(in.Message)
	if err != nil {
		return nil, err
	}
	is, err := a.repo.OpenIssue(ctx, c.UserID, c.Role)
	if err != nil {
		return nil, err
	}
	m := &models.IssueMessage{
		ID:        models.NewID(models.PrefixMessage),
		IssueID:   is.ID,
		SenderID:  c.UserID,
		Sender:    c.Role,
		Body:      text,
		CreatedAt: a.now().UTC(),
	}
	if err := a.repo.AddIssueMessage(ctx, m); err != nil {
		return nil, err
	}
	if err := a.hub.Publish(ctx, fanout.ChannelAdmins, fanout.Event{Type: "issue", Data: m}); err != nil {
		return nil, err
	}
	return m, nil
}

func (a *Actions) adminIssue(ctx context.Context, c Caller, in Inbound) (any, error) {
	if c.Role != models.RoleAdmin {
		return nil, apperr.Forbidden("admin only")
	}
	if in.IssueID == "" {
		return nil, apperr.Validation("issue_id is required")
	}
	text, err := validText(in.Message)
	if err != nil {
		return nil, err
	}
	is, err := a.repo.GetIssue(ctx, in.IssueID)
	if err != nil {
		return nil, err
	}
	m := &models.IssueMessage{
		ID:        models.NewID(models.PrefixMessage),
		IssueID:   is.ID,
		SenderID:  c.UserID,
		Sender:    models.RoleAdmin,
		Body:      text,
		CreatedAt: a.now().UTC(),
	}
	if err := a.repo.AddIssueMessage(ctx, m); err != nil {
		return nil, err
	}
	if err := a.hub.Notify(ctx, is.OwnerID, fanout.Event{Type: "issue_reply", Data: m}); err != nil {
		return nil, err
	}
	return m, nil
}

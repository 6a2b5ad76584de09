package models

import (
	"encoding/json"
	"time"
)

type Review struct {
	ID        string    `json:"id"`
	WashID    string    `json:"wash_id"`
	ClientID  string    `json:"client_id"`
	WasherID  string    `json:"washer_id"`
	Rating    int       `json:"rating"`
	Comment   string    `json:"comment"`
	CreatedAt time.Time `json:"created_at"`
}

type IssueStatus string

const (
	IssueOpen     IssueStatus = "open"
	IssueResolved IssueStatus = "resolved"
)

type Issue struct {
	ID        string      `json:"id"`
	OwnerID   string      `json:"owner_id"`
	OwnerRole Role        `json:"owner_role"`
	Status    IssueStatus `json:"status"`
	CreatedAt time.Time   `json:"created_at"`
}

type IssueMessage struct {
	ID        string    `json:"id"`
	IssueID   string    `json:"issue_id"`
	SenderID  string    `json:"sender_id"`
	Sender    Role      `json:"sender"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// WashMessage is a chat line between the two participants of a wash.
type WashMessage struct {
	ID          string    `json:"id"`
	WashID      string    `json:"wash_id"`
	SenderID    string    `json:"sender_id"`
	RecipientID string    `json:"recipient_id"`
	Body        string    `json:"body"`
	CreatedAt   time.Time `json:"created_at"`
}

// Event kinds carried by notifications and fan-out payloads.
const (
	EventWashCreated     = "wash.created"
	EventOfferSent       = "offer.sent"
	EventPriceProposed   = "offer.price_proposed"
	EventPriceAccepted   = "offer.price_accepted"
	EventOfferAccepted   = "offer.accepted"
	EventWashVerified    = "wash.verified"
	EventWashCompleted   = "wash.completed"
	EventPaymentSettled  = "payment.completed"
	EventReviewRequested = "review.requested"
	EventReviewCreated   = "review.created"
)

type NotificationStatus string

const (
	NotificationPending   NotificationStatus = "pending"
	NotificationDelivered NotificationStatus = "delivered"
	NotificationFailed    NotificationStatus = "failed"
)

// Notification is an outbox row written in the same transaction as the
// state change it announces.
type Notification struct {
	ID            string             `json:"id"`
	RecipientID   string             `json:"recipient_id"`
	Event         string             `json:"event"`
	Title         string             `json:"title"`
	Message       string             `json:"message"`
	Payload       json.RawMessage    `json:"payload,omitempty"`
	Status        NotificationStatus `json:"status"`
	Attempts      int                `json:"attempts"`
	NextAttemptAt time.Time          `json:"-"`
	CreatedAt     time.Time          `json:"created_at"`
	DeliveredAt   *time.Time         `json:"delivered_at,omitempty"`
}

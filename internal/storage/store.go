package storage

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/example/wash-hup/internal/models"
)

// Repo is the persistence surface used by the wash workflow. Every method
// returns apperr values for missing rows and unique violations.
type Repo interface {
	GetProfile(ctx context.Context, id string) (models.Profile, error)
	GetWasher(ctx context.Context, id string) (*models.WasherProfile, error)
	SaveProfile(ctx context.Context, p models.Profile) error
	SetWasherAvailability(ctx context.Context, id string, available bool) error
	UpdateWasherStats(ctx context.Context, id string, rating float64, totalWashes int) error

	CreateLocation(ctx context.Context, l *models.Location) error
	GetLocation(ctx context.Context, id string) (*models.Location, error)

	CreateWash(ctx context.Context, w *models.Wash) error
	GetWash(ctx context.Context, id string) (*models.Wash, error)
	// GetWashForUpdate locks the row until the surrounding transaction ends.
	GetWashForUpdate(ctx context.Context, id string) (*models.Wash, error)
	UpdateWash(ctx context.Context, w *models.Wash) error
	ListWashes(ctx context.Context, f models.WashFilter) ([]models.Wash, error)

	CreateReview(ctx context.Context, r *models.Review) error
	GetReviewByWash(ctx context.Context, washID string) (*models.Review, error)
	ReviewStats(ctx context.Context, washerID string) (avg float64, count int, err error)

	CreatePayment(ctx context.Context, p *models.Payment) error
	GetPaymentByReference(ctx context.Context, ref string) (*models.Payment, error)
	LockPaymentByReference(ctx context.Context, ref string) (*models.Payment, error)
	UpdatePaymentStatus(ctx context.Context, id string, status models.PaymentStatus) error
	ListPaymentsByWash(ctx context.Context, washID string) ([]models.Payment, error)
	ExpirePendingPayments(ctx context.Context, before time.Time) (int64, error)

	CreateTransaction(ctx context.Context, t *models.Transaction) error
	CreateRemittance(ctx context.Context, r *models.Remittance) error
	ListTransactions(ctx context.Context, washerID string, page models.Page) ([]models.Transaction, error)
	ListRemittances(ctx context.Context, washerID string, page models.Page) ([]models.Remittance, error)
	CreateWallet(ctx context.Context, w *models.Wallet) error
	GetWallet(ctx context.Context, washerID string) (*models.Wallet, error)
	LockWallet(ctx context.Context, washerID string) (*models.Wallet, error)
	CreditWallet(ctx context.Context, washerID string, amount decimal.Decimal) error

	LatestPriceBands(ctx context.Context) ([]models.PriceBand, error)
	CreatePriceBand(ctx context.Context, b *models.PriceBand) error

	EnqueueNotification(ctx context.Context, n *models.Notification) error
	// ClaimNotifications leases up to limit due rows by pushing their next
	// attempt to now+lease, so concurrent dispatchers skip them.
	ClaimNotifications(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]models.Notification, error)
	MarkNotificationDelivered(ctx context.Context, id string, at time.Time) error
	MarkNotificationFailed(ctx context.Context, id string, next time.Time, final bool) error
	ListNotifications(ctx context.Context, recipientID string, page models.Page) ([]models.Notification, error)

	OpenIssue(ctx context.Context, ownerID string, role models.Role) (*models.Issue, error)
	GetIssue(ctx context.Context, id string) (*models.Issue, error)
	AddIssueMessage(ctx context.Context, m *models.IssueMessage) error
	CreateWashMessage(ctx context.Context, m *models.WashMessage) error
}

// Store is a Repo that can open transactions.
type Store interface {
	Repo
	// WithTx runs fn inside one transaction; a non-nil error rolls it back.
	WithTx(ctx context.Context, fn func(Repo) error) error
	Ping(ctx context.Context) error
	Close() error
}

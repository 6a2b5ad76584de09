package storage

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/example/wash-hup/internal/apperr"
	"github.com/example/wash-hup/internal/models"
)

type memData struct {
	profiles      map[string]models.Profile
	locations     map[string]models.Location
	washes        map[string]models.Wash
	reviews       map[string]models.Review // keyed by wash id
	payments      map[string]models.Payment
	transactions  map[string]models.Transaction // keyed by payment id
	remittances   map[string]models.Remittance  // keyed by payment id
	wallets       map[string]models.Wallet
	bands         []models.PriceBand
	notifications map[string]models.Notification
	issues        map[string]models.Issue
	issueMsgs     []models.IssueMessage
	washMsgs      []models.WashMessage
}

func newMemData() *memData {
	return &memData{
		profiles:      make(map[string]models.Profile),
		locations:     make(map[string]models.Location),
		washes:        make(map[string]models.Wash),
		reviews:       make(map[string]models.Review),
		payments:      make(map[string]models.Payment),
		transactions:  make(map[string]models.Transaction),
		remittances:   make(map[string]models.Remittance),
		wallets:       make(map[string]models.Wallet),
		notifications: make(map[string]models.Notification),
		issues:        make(map[string]models.Issue),
	}
}

// clone copies every table; stored values are never mutated in place.
func (d *memData) clone() *memData {
	return &memData{
		profiles:      maps.Clone(d.profiles),
		locations:     maps.Clone(d.locations),
		washes:        maps.Clone(d.washes),
		reviews:       maps.Clone(d.reviews),
		payments:      maps.Clone(d.payments),
		transactions:  maps.Clone(d.transactions),
		remittances:   maps.Clone(d.remittances),
		wallets:       maps.Clone(d.wallets),
		bands:         append([]models.PriceBand(nil), d.bands...),
		notifications: maps.Clone(d.notifications),
		issues:        maps.Clone(d.issues),
		issueMsgs:     append([]models.IssueMessage(nil), d.issueMsgs...),
		washMsgs:      append([]models.WashMessage(nil), d.washMsgs...),
	}
}

// MemoryStore keeps everything in process. Transactions hold the store lock
// for their whole duration and restore a snapshot on error.
type MemoryStore struct {
	memRepo
	mu   sync.Mutex
	data *memData
}

func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{data: newMemData()}
	s.memRepo = memRepo{s: s}
	return s
}

func (s *MemoryStore) WithTx(ctx context.Context, fn func(Repo) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.data.clone()
	if err := fn(memRepo{s: s, inTx: true}); err != nil {
		s.data = snap
		return err
	}
	return nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }
func (s *MemoryStore) Close() error               { return nil }

type memRepo struct {
	s    *MemoryStore
	inTx bool
}

// lock is a no-op inside WithTx, which already holds the mutex.
func (r memRepo) lock() func() {
	if r.inTx {
		return func() {}
	}
	r.s.mu.Lock()
	return r.s.mu.Unlock
}

func (r memRepo) d() *memData { return r.s.data }

func (r memRepo) GetProfile(_ context.Context, id string) (models.Profile, error) {
	defer r.lock()()
	p, ok := r.d().profiles[id]
	if !ok {
		return nil, apperr.NotFound("profile")
	}
	return p, nil
}

func (r memRepo) GetWasher(_ context.Context, id string) (*models.WasherProfile, error) {
	defer r.lock()()
	wp, ok := r.d().profiles[id].(models.WasherProfile)
	if !ok {
		return nil, apperr.NotFound("washer")
	}
	return &wp, nil
}

func (r memRepo) SaveProfile(_ context.Context, p models.Profile) error {
	defer r.lock()()
	r.d().profiles[p.Base().ID] = p
	return nil
}

func (r memRepo) SetWasherAvailability(_ context.Context, id string, available bool) error {
	defer r.lock()()
	wp, ok := r.d().profiles[id].(models.WasherProfile)
	if !ok {
		return apperr.NotFound("washer")
	}
	wp.Available = available
	r.d().profiles[id] = wp
	return nil
}

func (r memRepo) UpdateWasherStats(_ context.Context, id string, rating float64, totalWashes int) error {
	defer r.lock()()
	wp, ok := r.d().profiles[id].(models.WasherProfile)
	if !ok {
		return apperr.NotFound("washer")
	}
	wp.Rating, wp.TotalWashes = rating, totalWashes
	r.d().profiles[id] = wp
	return nil
}

func (r memRepo) CreateLocation(_ context.Context, l *models.Location) error {
	defer r.lock()()
	if _, ok := r.d().locations[l.ID]; ok {
		return apperr.Conflict("location already exists")
	}
	r.d().locations[l.ID] = *l
	return nil
}

func (r memRepo) GetLocation(_ context.Context, id string) (*models.Location, error) {
	defer r.lock()()
	l, ok := r.d().locations[id]
	if !ok {
		return nil, apperr.NotFound("location")
	}
	return &l, nil
}

func (r memRepo) CreateWash(_ context.Context, w *models.Wash) error {
	defer r.lock()()
	if _, ok := r.d().washes[w.ID]; ok {
		return apperr.Conflict("wash already exists")
	}
	if err := w.CheckFlags(); err != nil {
		return err
	}
	r.d().washes[w.ID] = *w
	return nil
}

func (r memRepo) GetWash(_ context.Context, id string) (*models.Wash, error) {
	defer r.lock()()
	w, ok := r.d().washes[id]
	if !ok {
		return nil, apperr.NotFound("wash")
	}
	return &w, nil
}

// GetWashForUpdate relies on the transaction holding the store lock.
func (r memRepo) GetWashForUpdate(ctx context.Context, id string) (*models.Wash, error) {
	return r.GetWash(ctx, id)
}

func (r memRepo) UpdateWash(_ context.Context, w *models.Wash) error {
	defer r.lock()()
	if _, ok := r.d().washes[w.ID]; !ok {
		return apperr.NotFound("wash")
	}
	if err := w.CheckFlags(); err != nil {
		return err
	}
	r.d().washes[w.ID] = *w
	return nil
}

func (r memRepo) ListWashes(_ context.Context, f models.WashFilter) ([]models.Wash, error) {
	defer r.lock()()
	var out []models.Wash
	for _, w := range r.d().washes {
		if f.Match(&w) {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return window(out, f.Page), nil
}

func (r memRepo) CreateReview(_ context.Context, rv *models.Review) error {
	defer r.lock()()
	if _, ok := r.d().reviews[rv.WashID]; ok {
		return apperr.Conflict("review already exists")
	}
	r.d().reviews[rv.WashID] = *rv
	return nil
}

func (r memRepo) GetReviewByWash(_ context.Context, washID string) (*models.Review, error) {
	defer r.lock()()
	rv, ok := r.d().reviews[washID]
	if !ok {
		return nil, apperr.NotFound("review")
	}
	return &rv, nil
}

func (r memRepo) ReviewStats(_ context.Context, washerID string) (float64, int, error) {
	defer r.lock()()
	sum, n := 0, 0
	for _, rv := range r.d().reviews {
		if rv.WasherID == washerID {
			sum += rv.Rating
			n++
		}
	}
	if n == 0 {
		return 0, 0, nil
	}
	return float64(sum) / float64(n), n, nil
}

func (r memRepo) CreateWashMessage(_ context.Context, m *models.WashMessage) error {
	defer r.lock()()
	r.d().washMsgs = append(r.d().washMsgs, *m)
	return nil
}

func (r memRepo) CreatePayment(_ context.Context, p *models.Payment) error {
	defer r.lock()()
	for _, existing := range r.d().payments {
		if existing.Reference == p.Reference {
			return apperr.Conflict("payment already exists")
		}
	}
	r.d().payments[p.ID] = *p
	return nil
}

func (r memRepo) paymentByRef(ref string) (*models.Payment, error) {
	for _, p := range r.d().payments {
		if p.Reference == ref {
			return &p, nil
		}
	}
	return nil, apperr.NotFound("payment")
}

func (r memRepo) GetPaymentByReference(_ context.Context, ref string) (*models.Payment, error) {
	defer r.lock()()
	return r.paymentByRef(ref)
}

func (r memRepo) LockPaymentByReference(ctx context.Context, ref string) (*models.Payment, error) {
	return r.GetPaymentByReference(ctx, ref)
}

func (r memRepo) UpdatePaymentStatus(_ context.Context, id string, status models.PaymentStatus) error {
	defer r.lock()()
	p, ok := r.d().payments[id]
	if !ok {
		return apperr.NotFound("payment")
	}
	p.Status = status
	p.UpdatedAt = time.Now().UTC()
	r.d().payments[id] = p
	return nil
}

func (r memRepo) ListPaymentsByWash(_ context.Context, washID string) ([]models.Payment, error) {
	defer r.lock()()
	var out []models.Payment
	for _, p := range r.d().payments {
		if p.WashID == washID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r memRepo) ExpirePendingPayments(_ context.Context, before time.Time) (int64, error) {
	defer r.lock()()
	var n int64
	for id, p := range r.d().payments {
		if p.Status == models.PaymentPending && p.CreatedAt.Before(before) {
			p.Status = models.PaymentFailed
			p.UpdatedAt = time.Now().UTC()
			r.d().payments[id] = p
			n++
		}
	}
	return n, nil
}

func (r memRepo) CreateTransaction(_ context.Context, t *models.Transaction) error {
	defer r.lock()()
	if _, ok := r.d().transactions[t.PaymentID]; ok {
		return apperr.Conflict("transaction already exists")
	}
	r.d().transactions[t.PaymentID] = *t
	return nil
}

func (r memRepo) CreateRemittance(_ context.Context, rm *models.Remittance) error {
	defer r.lock()()
	if _, ok := r.d().remittances[rm.PaymentID]; ok {
		return apperr.Conflict("remittance already exists")
	}
	r.d().remittances[rm.PaymentID] = *rm
	return nil
}

func (r memRepo) ListTransactions(_ context.Context, washerID string, page models.Page) ([]models.Transaction, error) {
	defer r.lock()()
	var out []models.Transaction
	for _, t := range r.d().transactions {
		if t.WasherID == washerID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return window(out, page), nil
}

func (r memRepo) ListRemittances(_ context.Context, washerID string, page models.Page) ([]models.Remittance, error) {
	defer r.lock()()
	var out []models.Remittance
	for _, rm := range r.d().remittances {
		if rm.WasherID == washerID {
			out = append(out, rm)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return window(out, page), nil
}

func (r memRepo) CreateWallet(_ context.Context, w *models.Wallet) error {
	defer r.lock()()
	if _, ok := r.d().wallets[w.WasherID]; ok {
		return apperr.Conflict("wallet already exists")
	}
	r.d().wallets[w.WasherID] = *w
	return nil
}

func (r memRepo) GetWallet(_ context.Context, washerID string) (*models.Wallet, error) {
	defer r.lock()()
	w, ok := r.d().wallets[washerID]
	if !ok {
		return nil, apperr.NotFound("wallet")
	}
	return &w, nil
}

func (r memRepo) LockWallet(ctx context.Context, washerID string) (*models.Wallet, error) {
	return r.GetWallet(ctx, washerID)
}

func (r memRepo) CreditWallet(_ context.Context, washerID string, amount decimal.Decimal) error {
	defer r.lock()()
	w, ok := r.d().wallets[washerID]
	if !ok {
		return apperr.NotFound("wallet")
	}
	w.Balance = w.Balance.Add(amount)
	w.UpdatedAt = time.Now().UTC()
	r.d().wallets[washerID] = w
	return nil
}

func (r memRepo) LatestPriceBands(_ context.Context) ([]models.PriceBand, error) {
	defer r.lock()()
	latest := make(map[models.WashType]models.PriceBand)
	for _, b := range r.d().bands {
		if cur, ok := latest[b.WashType]; !ok || !b.CreatedAt.Before(cur.CreatedAt) {
			latest[b.WashType] = b
		}
	}
	out := make([]models.PriceBand, 0, len(latest))
	for _, b := range latest {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WashType < out[j].WashType })
	return out, nil
}

func (r memRepo) CreatePriceBand(_ context.Context, b *models.PriceBand) error {
	defer r.lock()()
	r.d().bands = append(r.d().bands, *b)
	return nil
}

func (r memRepo) EnqueueNotification(_ context.Context, n *models.Notification) error {
	defer r.lock()()
	if _, ok := r.d().notifications[n.ID]; ok {
		return apperr.Conflict("notification already exists")
	}
	r.d().notifications[n.ID] = *n
	return nil
}

func (r memRepo) ClaimNotifications(_ context.Context, now time.Time, limit int, lease time.Duration) ([]models.Notification, error) {
	defer r.lock()()
	var due []models.Notification
	for _, n := range r.d().notifications {
		if n.Status == models.NotificationPending && !n.NextAttemptAt.After(now) {
			due = append(due, n)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].NextAttemptAt.Before(due[j].NextAttemptAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	for i := range due {
		due[i].Attempts++
		due[i].NextAttemptAt = now.Add(lease)
		r.d().notifications[due[i].ID] = due[i]
	}
	return due, nil
}

func (r memRepo) MarkNotificationDelivered(_ context.Context, id string, at time.Time) error {
	defer r.lock()()
	n, ok := r.d().notifications[id]
	if !ok {
		return apperr.NotFound("notification")
	}
	n.Status = models.NotificationDelivered
	n.DeliveredAt = &at
	r.d().notifications[id] = n
	return nil
}

func (r memRepo) MarkNotificationFailed(_ context.Context, id string, next time.Time, final bool) error {
	defer r.lock()()
	n, ok := r.d().notifications[id]
	if !ok {
		return apperr.NotFound("notification")
	}
	if final {
		n.Status = models.NotificationFailed
	} else {
		n.NextAttemptAt = next
	}
	r.d().notifications[id] = n
	return nil
}

func (r memRepo) ListNotifications(_ context.Context, recipientID string, page models.Page) ([]models.Notification, error) {
	defer r.lock()()
	var out []models.Notification
	for _, n := range r.d().notifications {
		if n.RecipientID == recipientID {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return window(out, page), nil
}

func (r memRepo) OpenIssue(_ context.Context, ownerID string, role models.Role) (*models.Issue, error) {
	defer r.lock()()
	for _, is := range r.d().issues {
		if is.OwnerID == ownerID && is.Status == models.IssueOpen {
			return &is, nil
		}
	}
	is := models.Issue{
		ID:        models.NewID(models.PrefixIssue),
		OwnerID:   ownerID,
		OwnerRole: role,
		Status:    models.IssueOpen,
		CreatedAt: time.Now().UTC(),
	}
	r.d().issues[is.ID] = is
	return &is, nil
}

func (r memRepo) GetIssue(_ context.Context, id string) (*models.Issue, error) {
	defer r.lock()()
	is, ok := r.d().issues[id]
	if !ok {
		return nil, apperr.NotFound("issue")
	}
	return &is, nil
}

func (r memRepo) AddIssueMessage(_ context.Context, m *models.IssueMessage) error {
	defer r.lock()()
	if _, ok := r.d().issues[m.IssueID]; !ok {
		return apperr.NotFound("issue")
	}
	r.d().issueMsgs = append(r.d().issueMsgs, *m)
	return nil
}

func window[T any](items []T, page models.Page) []T {
	page = page.Normalize()
	if page.Skip >= len(items) {
		return nil
	}
	end := page.Skip + page.Limit
	if end > len(items) {
		end = len(items)
	}
	return items[page.Skip:end]
}

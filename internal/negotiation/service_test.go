package negotiation

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/wash-hup/internal/apperr"
	"github.com/example/wash-hup/internal/cache"
	"github.com/example/wash-hup/internal/geo"
	"github.com/example/wash-hup/internal/models"
	"github.com/example/wash-hup/internal/offers"
	"github.com/example/wash-hup/internal/payments"
	"github.com/example/wash-hup/internal/storage"
)

var lagos = models.Coord{Lat: 6.5244, Lon: 3.3792}

type countingWaker struct {
	mu sync.Mutex
	n  int
}

func (w *countingWaker) Wake() {
	w.mu.Lock()
	w.n++
	w.mu.Unlock()
}

type fixture struct {
	svc    *Service
	store  *storage.MemoryStore
	offers *offers.MemoryStore
	kv     *cache.Memory
	geo    *geo.MemoryIndex
	waker  *countingWaker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{
		store:  storage.NewMemoryStore(),
		offers: offers.NewMemoryStore(time.Hour),
		kv:     cache.NewMemory(),
		geo:    geo.NewMemoryIndex(),
		waker:  &countingWaker{},
	}
	f.svc = NewService(Deps{
		Store:   f.store,
		Offers:  f.offers,
		Geo:     f.geo,
		KV:      f.kv,
		Gateway: &payments.Sandbox{BaseURL: "http://pay.local", Secret: "s"},
		Waker:   f.waker,
	}, Config{}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	require.NoError(t, f.store.SaveProfile(ctx, models.OwnerProfile{ProfileBase: models.ProfileBase{ID: "cl_1", Name: "Ada", Email: "ada@example.com", Role: models.RoleOwner}}))
	require.NoError(t, f.store.SaveProfile(ctx, models.OwnerProfile{ProfileBase: models.ProfileBase{ID: "cl_2", Name: "Ebi", Role: models.RoleOwner}}))
	for _, w := range []struct {
		id, name string
		at       models.Coord
		rating   float64
	}{
		{"wr_a", "Bola", models.Coord{Lat: 6.5300, Lon: 3.3792}, 4.5},
		{"wr_b", "Chi", models.Coord{Lat: 6.5400, Lon: 3.3792}, 4.9},
		{"wr_far", "Dayo", models.Coord{Lat: 6.9000, Lon: 3.3792}, 5},
	} {
		require.NoError(t, f.store.SaveProfile(ctx, models.WasherProfile{
			ProfileBase: models.ProfileBase{ID: w.id, Name: w.name, Role: models.RoleWasher},
			Rating:      w.rating,
			Address:     &models.Address{Label: "base", Coord: w.at},
		}))
		require.NoError(t, f.svc.SetAvailability(ctx, w.id, true))
		_, err := f.svc.SetupWallet(ctx, w.id, "ACCT_"+w.id)
		require.NoError(t, err)
	}
	return f
}

func (f *fixture) createWash(t *testing.T) *models.Wash {
	t.Helper()
	w, err := f.svc.CreateWash(context.Background(), "cl_1", CreateWashRequest{
		WashType: models.WashSmart,
		HasWater: true,
		Label:    "12 Marina Road",
		Coord:    lagos,
		Car:      &models.Car{Type: "sedan", Name: "Corolla", Color: "blue"},
	})
	require.NoError(t, err)
	return w
}

// negotiate runs a wash up to the point where washerID has accepted it.
func (f *fixture) negotiate(t *testing.T, washerID string, price int64) *models.Wash {
	t.Helper()
	ctx := context.Background()
	w := f.createWash(t)
	_, err := f.svc.SendOffer(ctx, "cl_1", w.ID, washerID)
	require.NoError(t, err)
	_, err = f.svc.ProposePrice(ctx, washerID, w.ID, decimal.NewFromInt(price))
	require.NoError(t, err)
	_, err = f.svc.AcceptPrice(ctx, "cl_1", washerID, w.ID, decimal.NewFromInt(price))
	require.NoError(t, err)
	w, err = f.svc.AcceptOffer(ctx, washerID, w.ID)
	require.NoError(t, err)
	return w
}

func (f *fixture) startWash(t *testing.T, washerID string) *models.Wash {
	t.Helper()
	ctx := context.Background()
	w := f.negotiate(t, washerID, 5000)
	code, err := f.svc.GenerateCode(ctx, washerID, w.ID)
	require.NoError(t, err)
	w, err = f.svc.VerifyOnSite(ctx, "cl_1", w.ID, code.Code)
	require.NoError(t, err)
	return w
}

func TestNegotiationHappyPath(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	w := f.createWash(t)

	nearby, err := f.svc.Discover(ctx, "cl_1", w.ID)
	require.NoError(t, err)
	ids := []string{}
	for _, n := range nearby {
		ids = append(ids, n.ID)
		assert.LessOrEqual(t, n.DistanceKm, 5.0)
	}
	assert.ElementsMatch(t, []string{"wr_a", "wr_b"}, ids)

	_, err = f.svc.SendOffer(ctx, "cl_1", w.ID, "wr_a")
	require.NoError(t, err)
	upcoming, err := f.svc.UpcomingOffers(ctx, "wr_a")
	require.NoError(t, err)
	require.Len(t, upcoming, 1)
	assert.Equal(t, "12 Marina Road", upcoming[0].Location)

	o, err := f.svc.ProposePrice(ctx, "wr_a", w.ID, decimal.NewFromInt(5000))
	require.NoError(t, err)
	assert.False(t, o.Accepted)

	o, err = f.svc.AcceptPrice(ctx, "cl_1", "wr_a", w.ID, decimal.NewFromInt(5000))
	require.NoError(t, err)
	assert.True(t, o.Accepted)

	got, err := f.svc.AcceptOffer(ctx, "wr_a", w.ID)
	require.NoError(t, err)
	assert.True(t, got.Accepted)
	assert.Equal(t, "wr_a", got.WasherID)
	assert.True(t, decimal.NewFromInt(5000).Equal(got.Price.Decimal))

	_, err = f.offers.Get(ctx, "wr_a", w.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	stored, err := f.store.GetWash(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProgressPending, stored.Progress())

	notes, err := f.svc.Notifications(ctx, "wr_a", models.Page{})
	require.NoError(t, err)
	events := map[string]bool{}
	for _, n := range notes {
		events[n.Event] = true
	}
	assert.True(t, events[models.EventOfferSent])
	assert.True(t, events[models.EventPriceAccepted])
	assert.True(t, events[models.EventOfferAccepted])
	assert.Positive(t, f.waker.n)
}

func TestAcceptOfferRequiresClientAcceptance(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	w := f.createWash(t)
	_, err := f.svc.SendOffer(ctx, "cl_1", w.ID, "wr_a")
	require.NoError(t, err)

	_, err = f.svc.AcceptOffer(ctx, "wr_a", w.ID)
	assert.ErrorIs(t, err, apperr.ErrInvalidState)

	_, err = f.svc.AcceptPrice(ctx, "cl_1", "wr_a", w.ID, decimal.NewFromInt(4000))
	assert.ErrorIs(t, err, apperr.ErrInvalidState, "no price proposed yet")

	_, err = f.svc.ProposePrice(ctx, "wr_a", w.ID, decimal.NewFromInt(4000))
	require.NoError(t, err)
	_, err = f.svc.AcceptOffer(ctx, "wr_a", w.ID)
	assert.ErrorIs(t, err, apperr.ErrInvalidState)

	// still there for a later attempt
	_, err = f.offers.Get(ctx, "wr_a", w.ID)
	assert.NoError(t, err)
	stored, err := f.store.GetWash(ctx, w.ID)
	require.NoError(t, err)
	assert.False(t, stored.Accepted)
}

func TestNewProposalResetsAcceptance(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	w := f.createWash(t)
	_, err := f.svc.SendOffer(ctx, "cl_1", w.ID, "wr_a")
	require.NoError(t, err)
	_, err = f.svc.ProposePrice(ctx, "wr_a", w.ID, decimal.NewFromInt(4000))
	require.NoError(t, err)
	_, err = f.svc.AcceptPrice(ctx, "cl_1", "wr_a", w.ID, decimal.NewFromInt(4000))
	require.NoError(t, err)

	o, err := f.svc.ProposePrice(ctx, "wr_a", w.ID, decimal.NewFromInt(9000))
	require.NoError(t, err)
	assert.False(t, o.Accepted)
	_, err = f.svc.AcceptOffer(ctx, "wr_a", w.ID)
	assert.ErrorIs(t, err, apperr.ErrInvalidState)
}

// A client accepting the price they saw must not bind a newer one.
func TestAcceptPriceAfterReprice(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	w := f.createWash(t)
	_, err := f.svc.SendOffer(ctx, "cl_1", w.ID, "wr_a")
	require.NoError(t, err)
	_, err = f.svc.ProposePrice(ctx, "wr_a", w.ID, decimal.NewFromInt(5000))
	require.NoError(t, err)
	_, err = f.svc.ProposePrice(ctx, "wr_a", w.ID, decimal.NewFromInt(9000))
	require.NoError(t, err)

	_, err = f.svc.AcceptPrice(ctx, "cl_1", "wr_a", w.ID, decimal.NewFromInt(5000))
	assert.ErrorIs(t, err, apperr.ErrConflict)
	o, err := f.offers.Get(ctx, "wr_a", w.ID)
	require.NoError(t, err)
	assert.False(t, o.Accepted)
	_, err = f.svc.AcceptOffer(ctx, "wr_a", w.ID)
	assert.ErrorIs(t, err, apperr.ErrInvalidState)

	_, err = f.svc.AcceptPrice(ctx, "cl_1", "wr_a", w.ID, decimal.NewFromInt(9000))
	require.NoError(t, err)
	got, err := f.svc.AcceptOffer(ctx, "wr_a", w.ID)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(9000).Equal(got.Price.Decimal))
}

func TestOtherClientCannotTouchWash(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	w := f.createWash(t)

	_, err := f.svc.Discover(ctx, "cl_2", w.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = f.svc.SendOffer(ctx, "cl_2", w.ID, "wr_a")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = f.svc.Discover(ctx, "cl_1", "wa_missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = f.svc.SendOffer(ctx, "cl_1", w.ID, "wr_a")
	require.NoError(t, err)
	_, err = f.svc.ProposePrice(ctx, "wr_a", w.ID, decimal.NewFromInt(4000))
	require.NoError(t, err)
	_, err = f.svc.AcceptPrice(ctx, "cl_2", "wr_a", w.ID, decimal.NewFromInt(4000))
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestSendOfferUnknownWasher(t *testing.T) {
	f := newFixture(t)
	w := f.createWash(t)
	_, err := f.svc.SendOffer(context.Background(), "cl_1", w.ID, "wr_ghost")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestProposePriceMissingOffer(t *testing.T) {
	f := newFixture(t)
	w := f.createWash(t)
	_, err := f.svc.ProposePrice(context.Background(), "wr_a", w.ID, decimal.NewFromInt(100))
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestProposePriceOutsideBand(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.svc.SetPriceBand(ctx, models.PriceBand{
		WashType: models.WashSmart, Min: decimal.NewFromInt(3000), Max: decimal.NewFromInt(8000),
	}))
	w := f.createWash(t)
	_, err := f.svc.SendOffer(ctx, "cl_1", w.ID, "wr_a")
	require.NoError(t, err)

	_, err = f.svc.ProposePrice(ctx, "wr_a", w.ID, decimal.NewFromInt(9000))
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = f.svc.ProposePrice(ctx, "wr_a", w.ID, decimal.NewFromInt(5000))
	assert.NoError(t, err)

	bands, err := f.svc.ServicePrices(ctx)
	require.NoError(t, err)
	require.Len(t, bands, 1)
}

func TestConcurrentWashersAcceptSameWash(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	w := f.createWash(t)
	for _, id := range []string{"wr_a", "wr_b"} {
		_, err := f.svc.SendOffer(ctx, "cl_1", w.ID, id)
		require.NoError(t, err)
		_, err = f.svc.ProposePrice(ctx, id, w.ID, decimal.NewFromInt(5000))
		require.NoError(t, err)
		_, err = f.svc.AcceptPrice(ctx, "cl_1", id, w.ID, decimal.NewFromInt(5000))
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, id := range []string{"wr_a", "wr_b"} {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			_, errs[i] = f.svc.AcceptOffer(ctx, id, w.ID)
		}(i, id)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		assert.True(t, errors.Is(err, apperr.ErrConflict) || errors.Is(err, apperr.ErrNotFound), err)
	}
	assert.Equal(t, 1, wins)

	stored, err := f.store.GetWash(ctx, w.ID)
	require.NoError(t, err)
	assert.Contains(t, []string{"wr_a", "wr_b"}, stored.WasherID)
}

func TestSameOfferClaimedOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	w := f.createWash(t)
	_, err := f.svc.SendOffer(ctx, "cl_1", w.ID, "wr_a")
	require.NoError(t, err)
	_, err = f.svc.ProposePrice(ctx, "wr_a", w.ID, decimal.NewFromInt(5000))
	require.NoError(t, err)
	_, err = f.svc.AcceptPrice(ctx, "cl_1", "wr_a", w.ID, decimal.NewFromInt(5000))
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.svc.AcceptOffer(ctx, "wr_a", w.ID); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestVerifyOnSite(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	w := f.negotiate(t, "wr_a", 5000)

	code, err := f.svc.GenerateCode(ctx, "wr_a", w.ID)
	require.NoError(t, err)
	assert.Len(t, code.Code, codeLength)
	assert.NotEmpty(t, code.QRCode)

	_, err = f.svc.GenerateCode(ctx, "wr_b", w.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound, "only the assigned washer")

	_, err = f.svc.VerifyOnSite(ctx, "cl_1", w.ID, "wrong-code-1")
	assert.ErrorIs(t, err, apperr.ErrInvalidState)
	stored, err := f.store.GetWash(ctx, w.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsVerified)
	assert.False(t, stored.Started)

	got, err := f.svc.VerifyOnSite(ctx, "cl_1", w.ID, code.Code)
	require.NoError(t, err)
	assert.True(t, got.IsVerified)
	assert.True(t, got.Started)
	assert.NotNil(t, got.TimeStarted)

	_, err = f.svc.VerifyOnSite(ctx, "cl_1", w.ID, code.Code)
	assert.ErrorIs(t, err, apperr.ErrConflict)
	_, err = f.svc.GenerateCode(ctx, "wr_a", w.ID)
	assert.ErrorIs(t, err, apperr.ErrConflict)
}

func TestVerifyExpiredCode(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	w := f.negotiate(t, "wr_a", 5000)
	code, err := f.svc.GenerateCode(ctx, "wr_a", w.ID)
	require.NoError(t, err)

	require.NoError(t, f.kv.Del(ctx, cache.CodeKey("wr_a", w.ID)))
	_, err = f.svc.VerifyOnSite(ctx, "cl_1", w.ID, code.Code)
	assert.ErrorIs(t, err, apperr.ErrInvalidState)

	code, err = f.svc.GenerateCode(ctx, "wr_a", w.ID)
	require.NoError(t, err)
	_, err = f.svc.VerifyOnSite(ctx, "cl_1", w.ID, code.Code)
	assert.NoError(t, err)
}

func TestVerifyBeforeAccept(t *testing.T) {
	f := newFixture(t)
	w := f.createWash(t)
	_, err := f.svc.VerifyOnSite(context.Background(), "cl_1", w.ID, "abc")
	assert.ErrorIs(t, err, apperr.ErrInvalidState)
}

func TestEndWash(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	w := f.negotiate(t, "wr_a", 5000)

	_, err := f.svc.EndWash(ctx, "wr_a", w.ID, "https://img/1.jpg")
	assert.ErrorIs(t, err, apperr.ErrInvalidState, "not started yet")

	code, err := f.svc.GenerateCode(ctx, "wr_a", w.ID)
	require.NoError(t, err)
	_, err = f.svc.VerifyOnSite(ctx, "cl_1", w.ID, code.Code)
	require.NoError(t, err)

	got, err := f.svc.EndWash(ctx, "wr_a", w.ID, "https://img/1.jpg")
	require.NoError(t, err)
	assert.True(t, got.Completed)
	assert.Equal(t, "https://img/1.jpg", got.ImageURL)

	_, err = f.svc.EndWash(ctx, "wr_a", w.ID, "https://img/2.jpg")
	assert.ErrorIs(t, err, apperr.ErrConflict)

	wp, err := f.store.GetWasher(ctx, "wr_a")
	require.NoError(t, err)
	assert.Equal(t, 1, wp.TotalWashes, "counted once")

	stored, err := f.store.GetWash(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://img/1.jpg", stored.ImageURL)
	assert.NoError(t, stored.CheckFlags())
}

func TestPay(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	w := f.startWash(t, "wr_a")

	_, err := f.svc.Pay(ctx, "cl_1", w.ID)
	assert.ErrorIs(t, err, apperr.ErrInvalidState, "not completed")

	_, err = f.svc.EndWash(ctx, "wr_a", w.ID, "")
	require.NoError(t, err)

	res, err := f.svc.Pay(ctx, "cl_1", w.ID)
	require.NoError(t, err)
	assert.Contains(t, res.AuthorizationURL, res.Reference)

	again, err := f.svc.Pay(ctx, "cl_1", w.ID)
	require.NoError(t, err)
	assert.Equal(t, res.Reference, again.Reference)

	p, err := f.store.GetPaymentByReference(ctx, res.Reference)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPending, p.Status)
	assert.True(t, decimal.NewFromInt(5000).Equal(p.Amount))
	assert.Equal(t, "sandbox", p.Provider)

	require.NoError(t, f.store.UpdatePaymentStatus(ctx, p.ID, models.PaymentFailed))
	retry, err := f.svc.Pay(ctx, "cl_1", w.ID)
	require.NoError(t, err)
	assert.NotEqual(t, res.Reference, retry.Reference)

	p, err = f.store.GetPaymentByReference(ctx, retry.Reference)
	require.NoError(t, err)
	require.NoError(t, f.store.UpdatePaymentStatus(ctx, p.ID, models.PaymentCompleted))
	_, err = f.svc.Pay(ctx, "cl_1", w.ID)
	assert.ErrorIs(t, err, apperr.ErrConflict)
}

func TestReviewRequiresCompletion(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	w := f.startWash(t, "wr_a")

	_, err := f.svc.Review(ctx, "cl_1", w.ID, ReviewRequest{Rating: 5})
	assert.ErrorIs(t, err, apperr.ErrInvalidState)
	assert.ErrorIs(t, f.svc.RequestReview(ctx, "wr_a", w.ID), apperr.ErrInvalidState)

	_, err = f.svc.EndWash(ctx, "wr_a", w.ID, "")
	require.NoError(t, err)
	require.NoError(t, f.svc.RequestReview(ctx, "wr_a", w.ID))

	_, err = f.svc.Review(ctx, "cl_1", w.ID, ReviewRequest{Rating: 0})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	rv, err := f.svc.Review(ctx, "cl_1", w.ID, ReviewRequest{Rating: 3, Comment: " ok "})
	require.NoError(t, err)
	assert.Equal(t, "ok", rv.Comment)
	assert.Equal(t, "wr_a", rv.WasherID)

	_, err = f.svc.Review(ctx, "cl_1", w.ID, ReviewRequest{Rating: 5})
	assert.ErrorIs(t, err, apperr.ErrConflict)
	assert.ErrorIs(t, f.svc.RequestReview(ctx, "wr_a", w.ID), apperr.ErrConflict)

	wp, err := f.store.GetWasher(ctx, "wr_a")
	require.NoError(t, err)
	assert.Equal(t, 3.0, wp.Rating)
	assert.Equal(t, 1, wp.TotalWashes)

	d, err := f.svc.WashDetail(ctx, "cl_1", w.ID)
	require.NoError(t, err)
	assert.True(t, d.Reviewed)
	assert.Equal(t, models.ProgressCompleted, d.Progress)
	require.NotNil(t, d.Washer)
	assert.Equal(t, "Bola", d.Washer.Name)
}

func TestSetAvailability(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.store.SaveProfile(ctx, models.WasherProfile{
		ProfileBase: models.ProfileBase{ID: "wr_new", Role: models.RoleWasher},
	}))

	assert.ErrorIs(t, f.svc.SetAvailability(ctx, "wr_new", true), apperr.ErrNotFound)

	_, err := f.svc.SetAddress(ctx, "wr_new", models.Address{Label: "home", Coord: lagos})
	require.NoError(t, err)
	require.NoError(t, f.svc.SetAvailability(ctx, "wr_new", true))
	near, err := f.geo.Query(ctx, lagos, 1)
	require.NoError(t, err)
	require.NotEmpty(t, near)
	assert.Equal(t, "wr_new", near[0].WasherID)

	require.NoError(t, f.svc.SetAvailability(ctx, "wr_new", false))
	near, err = f.geo.Query(ctx, lagos, 0.1)
	require.NoError(t, err)
	assert.Empty(t, near)

	wp, err := f.store.GetWasher(ctx, "wr_new")
	require.NoError(t, err)
	assert.False(t, wp.Available)
}

// failingIndex fails every write while leaving queries to the wrapped index.
type failingIndex struct {
	geo.Index
	err error
}

func (f failingIndex) SetAvailable(context.Context, string, models.Coord) error { return f.err }
func (f failingIndex) SetUnavailable(context.Context, string) error { return f.err }

func TestSetAvailabilityIndexFailureKeepsProfile(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.svc.geo = failingIndex{Index: f.geo, err: apperr.Unavailable("geo", errors.New("redis down"))}

	err := f.svc.SetAvailability(ctx, "wr_a", false)
	assert.ErrorIs(t, err, apperr.ErrUnavailable)
	wp, err := f.store.GetWasher(ctx, "wr_a")
	require.NoError(t, err)
	assert.True(t, wp.Available, "profile and index must still agree")
	near, err := f.geo.Query(ctx, lagos, 5)
	require.NoError(t, err)
	assert.NotEmpty(t, near)

	require.NoError(t, f.store.SaveProfile(ctx, models.WasherProfile{
		ProfileBase: models.ProfileBase{ID: "wr_new", Role: models.RoleWasher},
		Address:     &models.Address{Label: "home", Coord: lagos},
	}))
	assert.Error(t, f.svc.SetAvailability(ctx, "wr_new", true))
	wp, err = f.store.GetWasher(ctx, "wr_new")
	require.NoError(t, err)
	assert.False(t, wp.Available)
}

func TestListWashesByProgress(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.createWash(t)
	f.negotiate(t, "wr_a", 5000)

	all, err := f.svc.ListWashes(ctx, "cl_1", models.RoleOwner, "", models.Page{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	pending, err := f.svc.ListWashes(ctx, "wr_a", models.RoleWasher, models.ProgressPending, models.Page{})
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	_, err = f.svc.ListWashes(ctx, "cl_1", models.RoleOwner, "bogus", models.Page{})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestCreateWashValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.CreateWash(ctx, "cl_1", CreateWashRequest{WashType: "gold", Coord: lagos})
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = f.svc.CreateWash(ctx, "cl_1", CreateWashRequest{WashType: models.WashQuick})
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = f.svc.CreateWash(ctx, "wr_a", CreateWashRequest{WashType: models.WashQuick, Coord: lagos})
	assert.ErrorIs(t, err, apperr.ErrForbidden)
}

func TestAddCarOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	w, err := f.svc.CreateWash(ctx, "cl_1", CreateWashRequest{WashType: models.WashQuick, Coord: lagos})
	require.NoError(t, err)

	got, err := f.svc.AddCar(ctx, "cl_1", w.ID, models.Car{Type: "suv", Name: "RAV4"})
	require.NoError(t, err)
	assert.Equal(t, "RAV4", got.Car.Name)

	_, err = f.svc.AddCar(ctx, "cl_1", w.ID, models.Car{Type: "suv", Name: "RAV4"})
	assert.ErrorIs(t, err, apperr.ErrConflict)
}

func TestEarnings(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	e, err := f.svc.Earnings(ctx, "wr_a", models.Page{})
	require.NoError(t, err)
	assert.True(t, e.Wallet.Balance.IsZero())
	assert.Equal(t, "ACCT_wr_a", e.Wallet.SubaccountCode)

	_, err = f.svc.SetupWallet(ctx, "wr_a", "ACCT_2")
	assert.ErrorIs(t, err, apperr.ErrConflict)
}

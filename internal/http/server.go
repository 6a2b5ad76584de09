// Package httpapi exposes the wash workflow over REST, accepts gateway
// webhooks and mounts the participant websocket.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/wash-hup/internal/auth"
	"github.com/example/wash-hup/internal/models"
	"github.com/example/wash-hup/internal/negotiation"
	"github.com/example/wash-hup/internal/settlement"
)

// Pinger reports whether a backing dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Options struct {
	Service    *negotiation.Service
	Settlement *settlement.Processor
	Verifier   auth.Verifier
	WebSocket  http.Handler
	// Ready lists the dependencies checked by /ready, keyed by name.
	Ready  map[string]Pinger
	Logger *slog.Logger
}

type Server struct {
	svc      *negotiation.Service
	settle   *settlement.Processor
	verifier auth.Verifier
	ws       http.Handler
	ready    map[string]Pinger
	logger   *slog.Logger
	mux      *mux.Router
}

func NewServer(o Options) *Server {
	s := &Server{
		svc:      o.Service,
		settle:   o.Settlement,
		verifier: o.Verifier,
		ws:       o.WebSocket,
		ready:    o.Ready,
		logger:   o.Logger,
		mux:      mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	s.mux.HandleFunc("/ready", s.handleReady).Methods(http.MethodGet)
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/payments/{provider}/webhook", s.handleWebhook).Methods(http.MethodPost)
	if s.ws != nil {
		// the socket authenticates from its query string, not the header
		s.mux.Handle("/ws/connect", s.ws)
	}

	api := s.mux.PathPrefix("/api/v1").Subrouter()
	api.Use(s.authMiddleware)

	owner := s.roles(models.RoleOwner)
	washer := s.roles(models.RoleWasher)
	participant := s.roles(models.RoleOwner, models.RoleWasher)
	admin := s.roles(models.RoleAdmin)

	api.Handle("/washes", owner(s.handleCreateWash)).Methods(http.MethodPost)
	api.Handle("/washes", participant(s.handleListWashes)).Methods(http.MethodGet)
	api.Handle("/washes/{wash_id}", participant(s.handleWashDetail)).Methods(http.MethodGet)
	api.Handle("/washes/{wash_id}/car", owner(s.handleAddCar)).Methods(http.MethodPost)
	api.Handle("/washes/{wash_id}/washers", owner(s.handleDiscover)).Methods(http.MethodGet)
	api.Handle("/washes/{wash_id}/offers", owner(s.handleSendOffer)).Methods(http.MethodPost)
	api.Handle("/washes/{wash_id}/offers/{washer_id}/accept-price", owner(s.handleAcceptPrice)).Methods(http.MethodPost)
	api.Handle("/washes/{wash_id}/price", washer(s.handleProposePrice)).Methods(http.MethodPost)
	api.Handle("/washes/{wash_id}/accept", washer(s.handleAcceptOffer)).Methods(http.MethodPost)
	api.Handle("/washes/{wash_id}/code", washer(s.handleGenerateCode)).Methods(http.MethodPost)
	api.Handle("/washes/{wash_id}/verify", owner(s.handleVerify)).Methods(http.MethodPost)
	api.Handle("/washes/{wash_id}/end", washer(s.handleEndWash)).Methods(http.MethodPost)
	api.Handle("/washes/{wash_id}/pay", owner(s.handlePay)).Methods(http.MethodPost)
	api.Handle("/washes/{wash_id}/review", owner(s.handleReview)).Methods(http.MethodPost)
	api.Handle("/washes/{wash_id}/review-request", washer(s.handleRequestReview)).Methods(http.MethodPost)

	api.Handle("/offers", washer(s.handleUpcomingOffers)).Methods(http.MethodGet)
	api.Handle("/prices", http.HandlerFunc(s.handleServicePrices)).Methods(http.MethodGet)
	api.Handle("/admin/prices", admin(s.handleSetPriceBand)).Methods(http.MethodPost)

	api.Handle("/washer/address", washer(s.handleSetAddress)).Methods(http.MethodPut)
	api.Handle("/washer/availability", washer(s.handleSetAvailability)).Methods(http.MethodPut)
	api.Handle("/washer/wallet", washer(s.handleSetupWallet)).Methods(http.MethodPost)
	api.Handle("/washer/earnings", washer(s.handleEarnings)).Methods(http.MethodGet)
	api.Handle("/washer/remittances", washer(s.handleRemittances)).Methods(http.MethodGet)

	api.Handle("/notifications", http.HandlerFunc(s.handleNotifications)).Methods(http.MethodGet)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	for name, p := range s.ready {
		if err := p.Ping(r.Context()); err != nil {
			s.logger.Warn("readiness check failed", "dependency", name, "error", err)
			http.Error(w, name+" not ready", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

package httpapi

import (
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/example/wash-hup/internal/apperr"
	"github.com/example/wash-hup/internal/models"
	"github.com/example/wash-hup/internal/negotiation"
)

func (s *Server) handleCreateWash(w http.ResponseWriter, r *http.Request) {
	var req negotiation.CreateWashRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	wash, err := s.svc.CreateWash(r.Context(), identity(r).UserID, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, wash)
}

func (s *Server) handleListWashes(w http.ResponseWriter, r *http.Request) {
	page, err := pageFrom(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	id := identity(r)
	washes, err := s.svc.ListWashes(r.Context(), id.UserID, id.Role, r.URL.Query().Get("progress"), page)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, washes)
}

func (s *Server) handleWashDetail(w http.ResponseWriter, r *http.Request) {
	d, err := s.svc.WashDetail(r.Context(), identity(r).UserID, washID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleAddCar(w http.ResponseWriter, r *http.Request) {
	var car models.Car
	if err := decode(r, &car); err != nil {
		s.writeError(w, r, err)
		return
	}
	wash, err := s.svc.AddCar(r.Context(), identity(r).UserID, washID(r), car)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wash)
}

func (s *Server) handleDiscover(w http.ResponseWriter, r *http.Request) {
	washers, err := s.svc.Discover(r.Context(), identity(r).UserID, washID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, washers)
}

type sendOfferRequest struct {
	WasherID string `json:"washer_id"`
}

func (s *Server) handleSendOffer(w http.ResponseWriter, r *http.Request) {
	var req sendOfferRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.WasherID == "" {
		s.writeError(w, r, apperr.Validation("washer_id is required"))
		return
	}
	offer, err := s.svc.SendOffer(r.Context(), identity(r).UserID, washID(r), req.WasherID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, offer)
}

type proposePriceRequest struct {
	Price decimal.Decimal `json:"price"`
}

// handleAcceptPrice takes the price the client saw so a concurrent reprice
// cannot be accepted blind.
func (s *Server) handleAcceptPrice(w http.ResponseWriter, r *http.Request) {
	var req proposePriceRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if !req.Price.IsPositive() {
		s.writeError(w, r, apperr.Validation("price is required"))
		return
	}
	offer, err := s.svc.AcceptPrice(r.Context(), identity(r).UserID, mux.Vars(r)["washer_id"], washID(r), req.Price)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, offer)
}

func (s *Server) handleProposePrice(w http.ResponseWriter, r *http.Request) {
	var req proposePriceRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	offer, err := s.svc.ProposePrice(r.Context(), identity(r).UserID, washID(r), req.Price)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, offer)
}

func (s *Server) handleAcceptOffer(w http.ResponseWriter, r *http.Request) {
	wash, err := s.svc.AcceptOffer(r.Context(), identity(r).UserID, washID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wash)
}

func (s *Server) handleGenerateCode(w http.ResponseWriter, r *http.Request) {
	code, err := s.svc.GenerateCode(r.Context(), identity(r).UserID, washID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if r.URL.Query().Get("format") == "png" {
		w.Header().Set("Content-Type", "image/png")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write(code.QRCode)
		return
	}
	writeJSON(w, http.StatusCreated, code)
}

type verifyRequest struct {
	Code string `json:"code"`
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	wash, err := s.svc.VerifyOnSite(r.Context(), identity(r).UserID, washID(r), req.Code)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wash)
}

type endWashRequest struct {
	ImageURL string `json:"image_url"`
}

func (s *Server) handleEndWash(w http.ResponseWriter, r *http.Request) {
	var req endWashRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	wash, err := s.svc.EndWash(r.Context(), identity(r).UserID, washID(r), req.ImageURL)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wash)
}

func (s *Server) handlePay(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.Pay(r.Context(), identity(r).UserID, washID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleReview(w http.ResponseWriter, r *http.Request) {
	var req negotiation.ReviewRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	rv, err := s.svc.Review(r.Context(), identity(r).UserID, washID(r), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rv)
}

func (s *Server) handleRequestReview(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.RequestReview(r.Context(), identity(r).UserID, washID(r)); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUpcomingOffers(w http.ResponseWriter, r *http.Request) {
	list, err := s.svc.UpcomingOffers(r.Context(), identity(r).UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleServicePrices(w http.ResponseWriter, r *http.Request) {
	bands, err := s.svc.ServicePrices(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bands)
}

func (s *Server) handleSetPriceBand(w http.ResponseWriter, r *http.Request) {
	var b models.PriceBand
	if err := decode(r, &b); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.svc.SetPriceBand(r.Context(), b); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetAddress(w http.ResponseWriter, r *http.Request) {
	var addr models.Address
	if err := decode(r, &addr); err != nil {
		s.writeError(w, r, err)
		return
	}
	p, err := s.svc.SetAddress(r.Context(), identity(r).UserID, addr)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type availabilityRequest struct {
	Available *bool `json:"available"`
}

func (s *Server) handleSetAvailability(w http.ResponseWriter, r *http.Request) {
	var req availabilityRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Available == nil {
		s.writeError(w, r, apperr.Validation("available is required"))
		return
	}
	if err := s.svc.SetAvailability(r.Context(), identity(r).UserID, *req.Available); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type walletRequest struct {
	SubaccountCode string `json:"subaccount_code"`
}

func (s *Server) handleSetupWallet(w http.ResponseWriter, r *http.Request) {
	var req walletRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	wallet, err := s.svc.SetupWallet(r.Context(), identity(r).UserID, req.SubaccountCode)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, wallet)
}

func (s *Server) handleEarnings(w http.ResponseWriter, r *http.Request) {
	page, err := pageFrom(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	e, err := s.svc.Earnings(r.Context(), identity(r).UserID, page)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) handleRemittances(w http.ResponseWriter, r *http.Request) {
	page, err := pageFrom(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	list, err := s.svc.Remittances(r.Context(), identity(r).UserID, page)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	page, err := pageFrom(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	list, err := s.svc.Notifications(r.Context(), identity(r).UserID, page)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// handleWebhook answers 200 once the event is applied, ignored or parked
// on the dead-letter topic; the gateway only retries on signature or
// availability failures.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.writeError(w, r, apperr.Validation("unreadable body"))
		return
	}
	if err := s.settle.HandleWebhook(r.Context(), mux.Vars(r)["provider"], body, r.Header); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/example/wash-hup/internal/apperr"
	"github.com/example/wash-hup/internal/auth"
	"github.com/example/wash-hup/internal/models"
)

const maxBodyBytes = 1 << 20

type envelope struct {
	Data any `json:"data"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Data: v})
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	ae := apperr.From(err)
	status := ae.HTTPStatus()
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "route", routeTemplate(r), "error", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": ae})
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.Validation("request body is required")
		}
		return apperr.Validation("malformed request body").WithDetails(err.Error())
	}
	return nil
}

func pageFrom(r *http.Request) (models.Page, error) {
	var p models.Page
	q := r.URL.Query()
	for key, dst := range map[string]*int{"skip": &p.Skip, "limit": &p.Limit} {
		raw := q.Get(key)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return p, apperr.Validation(key + " must be a non-negative integer")
		}
		*dst = n
	}
	return p.Normalize(), nil
}

func identity(r *http.Request) auth.Identity {
	id, _ := auth.FromContext(r.Context())
	return id
}

func washID(r *http.Request) string { return mux.Vars(r)["wash_id"] }

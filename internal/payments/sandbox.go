package payments

import (
	"context"
	"net/http"
	"strings"

	"github.com/example/wash-hup/internal/models"
)

// Sandbox is a local gateway: it hands out links on BaseURL and accepts
// webhooks signed like Paystack's with Secret.
type Sandbox struct {
	BaseURL string
	Secret  string
}

func (s *Sandbox) Name() string { return "sandbox" }

func (s *Sandbox) Initialize(_ context.Context, req InitRequest) (*InitResult, error) {
	return &InitResult{
		AuthorizationURL: strings.TrimRight(s.BaseURL, "/") + "/sandbox/pay/" + req.Reference,
		Reference:        req.Reference,
	}, nil
}

func (s *Sandbox) ParseWebhook(body []byte, header http.Header) (*models.ChargeEvent, error) {
	return parseSignedPaystack(s.Name(), s.Secret, body, header)
}

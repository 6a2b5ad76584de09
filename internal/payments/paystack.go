package payments

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/example/wash-hup/internal/apperr"
	"github.com/example/wash-hup/internal/models"
)

const PaystackSignatureHeader = "X-Paystack-Signature"

// PaystackClient initialises split payments to a washer subaccount.
type PaystackClient struct {
	BaseURL    string
	SecretKey  string
	HTTPClient *http.Client
}

func NewPaystackClient(baseURL, secretKey string) *PaystackClient {
	return &PaystackClient{
		BaseURL:   strings.TrimRight(baseURL, "/"),
		SecretKey: secretKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *PaystackClient) Name() string { return "paystack" }

type paystackInitRequest struct {
	Amount     string            `json:"amount"`
	Email      string            `json:"email"`
	Reference  string            `json:"reference"`
	Currency   string            `json:"currency,omitempty"`
	Subaccount string            `json:"subaccount,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

type paystackResponse struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (c *PaystackClient) Initialize(ctx context.Context, req InitRequest) (*InitResult, error) {
	body, err := json.Marshal(paystackInitRequest{
		Amount:     fmt.Sprintf("%d", toMinor(req.Amount)),
		Email:      req.Email,
		Reference:  req.Reference,
		Currency:   req.Currency,
		Subaccount: req.SubaccountCode,
		Metadata:   map[string]string{"wash_id": req.WashID, "washer_id": req.WasherID},
	})
	if err != nil {
		return nil, fmt.Errorf("encode paystack request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/transaction/initialize", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build paystack request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.SecretKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, apperr.Unavailable("payment gateway unreachable", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperr.Unavailable("payment gateway read failed", err)
	}
	var out paystackResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, apperr.Unavailable("payment gateway returned malformed response", err)
	}
	if resp.StatusCode >= 500 {
		return nil, apperr.Unavailable("payment gateway error", fmt.Errorf("status %d: %s", resp.StatusCode, out.Message))
	}
	if !out.Status {
		return nil, apperr.Validation(out.Message)
	}

	var data struct {
		AuthorizationURL string `json:"authorization_url"`
		Reference        string `json:"reference"`
	}
	if err := json.Unmarshal(out.Data, &data); err != nil {
		return nil, apperr.Unavailable("payment gateway returned malformed data", err)
	}
	if data.Reference == "" {
		data.Reference = req.Reference
	}
	return &InitResult{AuthorizationURL: data.AuthorizationURL, Reference: data.Reference}, nil
}

type paystackEvent struct {
	Event string `json:"event"`
	Data  struct {
		Reference string `json:"reference"`
		Amount    int64  `json:"amount"`
		Fees      int64  `json:"fees"`
		FeesSplit *struct {
			Subaccount int64 `json:"subaccount"`
		} `json:"fees_split"`
	} `json:"data"`
}

// ParseWebhook checks the HMAC-SHA512 of body against the signature header.
func (c *PaystackClient) ParseWebhook(body []byte, header http.Header) (*models.ChargeEvent, error) {
	return parseSignedPaystack(c.Name(), c.SecretKey, body, header)
}

func parseSignedPaystack(provider, secret string, body []byte, header http.Header) (*models.ChargeEvent, error) {
	if err := VerifySignature(secret, body, header.Get(PaystackSignatureHeader)); err != nil {
		return nil, err
	}
	var ev paystackEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, apperr.Validation("invalid JSON")
	}
	out := &models.ChargeEvent{
		Provider:  provider,
		Event:     ev.Event,
		Reference: ev.Data.Reference,
		Gross:     fromMinor(ev.Data.Amount),
	}
	switch {
	case ev.Data.FeesSplit != nil:
		out.Net = fromMinor(ev.Data.FeesSplit.Subaccount)
	default:
		out.Net = fromMinor(ev.Data.Amount - ev.Data.Fees)
	}
	if out.Succeeded() && out.Reference == "" {
		return nil, apperr.Validation("charge event missing reference")
	}
	return out, nil
}

// VerifySignature compares the hex HMAC-SHA512 of body in constant time.
func VerifySignature(secret string, body []byte, signature string) error {
	if signature == "" {
		return apperr.Authentication("missing signature")
	}
	got, err := hex.DecodeString(signature)
	if err != nil {
		return apperr.Authentication("invalid signature")
	}
	if !hmac.Equal(got, Sign(secret, body)) {
		return apperr.Authentication("invalid signature")
	}
	return nil
}

func Sign(secret string, body []byte) []byte {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	return mac.Sum(nil)
}

package payment

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/academyhq/academy-api/internal/common"
	"github.com/academyhq/academy-api/internal/resilience"
)

const paystackDefaultBaseURL = "https://api.paystack.co"

// maxProviderBody caps how much of a provider response is buffered.
const maxProviderBody = 1 << 20

// Paystack implements the Gateway interface against the Paystack REST API.
type Paystack struct {
	SecretKey string
	BaseURL   string
	HTTP      *resilience.HTTPClient
}

type paystackEnvelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// Initialize opens a transaction and returns the authorization payload.
func (p Paystack) Initialize(ctx context.Context, req InitializeRequest) (InitializeResponse, error) {
	var zero InitializeResponse
	if strings.TrimSpace(req.Email) == "" {
		return zero, errors.New("paystack: email is required")
	}
	if req.AmountMinor <= 0 {
		return zero, errors.New("paystack: amount must be positive")
	}
	body, err := json.Marshal(map[string]any{
		"email":        req.Email,
		"amount":       req.AmountMinor,
		"callback_url": req.CallbackURL,
	})
	if err != nil {
		return zero, err
	}
	data, err := p.call(ctx, http.MethodPost, "/transaction/initialize", bytes.NewReader(body))
	if err != nil {
		return zero, err
	}
	var parsed struct {
		AuthorizationURL string `json:"authorization_url"`
		AccessCode       string `json:"access_code"`
		Reference        string `json:"reference"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return zero, common.NewGatewayError("unexpected provider response", err)
	}
	if strings.TrimSpace(parsed.Reference) == "" {
		return zero, common.NewGatewayError("provider returned no reference", errors.New(string(data)))
	}
	return InitializeResponse{
		AuthorizationURL: parsed.AuthorizationURL,
		AccessCode:       parsed.AccessCode,
		Reference:        parsed.Reference,
		Raw:              data,
	}, nil
}

// Verify fetches the authoritative transaction status for a reference.
func (p Paystack) Verify(ctx context.Context, reference string) (VerifyResponse, error) {
	var zero VerifyResponse
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return zero, errors.New("paystack: reference is required")
	}
	data, err := p.call(ctx, http.MethodGet, "/transaction/verify/"+reference, nil)
	if err != nil {
		return zero, err
	}
	var parsed struct {
		Status   string `json:"status"`
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
		Customer struct {
			Email string `json:"email"`
		} `json:"customer"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return zero, common.NewGatewayError("unexpected provider response", err)
	}
	return VerifyResponse{
		Status:        parsed.Status,
		AmountMinor:   parsed.Amount,
		Currency:      parsed.Currency,
		CustomerEmail: parsed.Customer.Email,
		Raw:           data,
	}, nil
}

// VerifyWebhook validates the X-Paystack-Signature header (HMAC-SHA512 over
// the raw body) and extracts the event envelope.
func (p Paystack) VerifyWebhook(r *http.Request, body []byte) (WebhookEvent, error) {
	expected := p.computeSignature(body)
	provided := strings.TrimSpace(r.Header.Get("X-Paystack-Signature"))
	if expected == "" || provided == "" || !hmac.Equal([]byte(expected), []byte(provided)) {
		return WebhookEvent{Valid: false, Err: errors.New("invalid signature")}, nil
	}
	var payload struct {
		Event string `json:"event"`
		Data  struct {
			Reference string `json:"reference"`
			Amount    int64  `json:"amount"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return WebhookEvent{Valid: false, Err: err}, nil
	}
	return WebhookEvent{
		Valid:     true,
		Event:     payload.Event,
		Reference: payload.Data.Reference,
		Amount:    payload.Data.Amount,
		Payload:   body,
	}, nil
}

func (p Paystack) computeSignature(body []byte) string {
	key := strings.TrimSpace(p.SecretKey)
	if key == "" {
		return ""
	}
	mac := hmac.New(sha512.New, []byte(key))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func (p Paystack) call(ctx context.Context, method, path string, body io.Reader) (json.RawMessage, error) {
	req, err := http.NewRequest(method, p.baseURL()+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+p.SecretKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.doer().Do(ctx, req)
	if err != nil {
		return nil, common.NewGatewayError("payment provider unreachable", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxProviderBody))
	if err != nil {
		return nil, common.NewGatewayError("read provider response", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, common.NewGatewayError(
			"payment provider request failed",
			fmt.Errorf("paystack: %s %s: status %d: %s", method, path, resp.StatusCode, raw),
		)
	}
	var envelope paystackEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, common.NewGatewayError("unexpected provider response", fmt.Errorf("paystack: decode: %w: %s", err, raw))
	}
	if !envelope.Status {
		return nil, common.NewGatewayError(
			"payment provider rejected request",
			fmt.Errorf("paystack: %s %s: %s", method, path, envelope.Message),
		)
	}
	return envelope.Data, nil
}

func (p Paystack) baseURL() string {
	base := strings.TrimRight(strings.TrimSpace(p.BaseURL), "/")
	if base == "" {
		return paystackDefaultBaseURL
	}
	return base
}

func (p Paystack) doer() *resilience.HTTPClient {
	if p.HTTP != nil {
		return p.HTTP
	}
	return &resilience.HTTPClient{Client: http.DefaultClient, Target: "paystack"}
}

package payment

import (
	"context"
	"encoding/json"
	"net/http"
)

// InitializeRequest carries the fields submitted when opening a transaction
// with the provider. AmountMinor is in the provider's smallest currency unit.
type InitializeRequest struct {
	Email       string
	AmountMinor int64
	CallbackURL string
}

// InitializeResponse is the normalised result of a provider initialization.
// Raw preserves the provider's data object for the API response.
type InitializeResponse struct {
	AuthorizationURL string
	AccessCode       string
	Reference        string
	Raw              json.RawMessage
}

// VerifyResponse is the normalised result of a provider status check.
type VerifyResponse struct {
	Status        string
	AmountMinor   int64
	Currency      string
	CustomerEmail string
	Raw           json.RawMessage
}

// WebhookEvent contains the data extracted from a provider callback after
// signature verification.
type WebhookEvent struct {
	Valid     bool
	Event     string
	Reference string
	Amount    int64
	Payload   []byte
	Err       error
}

// Gateway abstracts the upstream payment provider.
type Gateway interface {
	Initialize(ctx context.Context, req InitializeRequest) (InitializeResponse, error)
	Verify(ctx context.Context, reference string) (VerifyResponse, error)
	VerifyWebhook(r *http.Request, body []byte) (WebhookEvent, error)
}

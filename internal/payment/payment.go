package payment

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a payment record.
type Status string

const (
	// StatusPending is the initial state. A pending record may or may not
	// have a provider reference yet.
	StatusPending Status = "pending"
	// StatusSuccess is terminal.
	StatusSuccess Status = "success"
	// StatusFailed is terminal.
	StatusFailed Status = "failed"
)

// Terminal reports whether no further transition is expected.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// Payment is a durable record correlating a local charge attempt with a
// provider transaction. Amount is held in major currency units; conversion to
// the provider's minor unit happens only at the gateway boundary.
type Payment struct {
	ID          uuid.UUID `json:"id"`
	PayerEmail  string    `json:"payer_email"`
	Amount      int64     `json:"amount"`
	Reference   string    `json:"reference,omitempty"`
	Status      Status    `json:"status"`
	CallbackURL string    `json:"callback_url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Initialized reports whether the provider accepted the initialization
// request. A record without a reference cannot be verified.
func (p Payment) Initialized() bool {
	return p.Reference != ""
}

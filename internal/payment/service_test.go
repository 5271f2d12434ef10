package payment_test

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/academyhq/academy-api/internal/common"
	"github.com/academyhq/academy-api/internal/obs"
	"github.com/academyhq/academy-api/internal/payment"
)

func init() {
	obs.MustRegisterDomainMetrics("academy", prometheus.NewRegistry())
}

// memStore is an in-memory Store with the same CAS semantics as the SQL one.
type memStore struct {
	mu      sync.Mutex
	byID    map[uuid.UUID]payment.Payment
	created int

	createErr     error
	setRefErr     error
	transitionErr error
}

func newMemStore() *memStore {
	return &memStore{byID: map[uuid.UUID]payment.Payment{}}
}

func (s *memStore) Create(ctx context.Context, p payment.Payment) (payment.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return payment.Payment{}, s.createErr
	}
	p.ID = uuid.New()
	if p.Status == "" {
		p.Status = payment.StatusPending
	}
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	s.byID[p.ID] = p
	s.created++
	return p, nil
}

func (s *memStore) SetReference(ctx context.Context, id uuid.UUID, reference string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.setRefErr != nil {
		return s.setRefErr
	}
	p, ok := s.byID[id]
	if !ok {
		return payment.ErrNotFound
	}
	p.Reference = reference
	p.UpdatedAt = time.Now()
	s.byID[id] = p
	return nil
}

func (s *memStore) GetByID(ctx context.Context, id uuid.UUID) (payment.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byID[id]
	if !ok {
		return payment.Payment{}, payment.ErrNotFound
	}
	return p, nil
}

func (s *memStore) GetByReference(ctx context.Context, reference string) (payment.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.byID {
		if p.Reference == reference && reference != "" {
			return p, nil
		}
	}
	return payment.Payment{}, payment.ErrNotFound
}

func (s *memStore) TransitionStatus(ctx context.Context, reference string, from, to payment.Status) (payment.Payment, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.transitionErr != nil {
		return payment.Payment{}, false, s.transitionErr
	}
	for id, p := range s.byID {
		if p.Reference != reference || reference == "" {
			continue
		}
		if p.Status != from {
			return p, false, nil
		}
		p.Status = to
		p.UpdatedAt = time.Now()
		s.byID[id] = p
		return p, true, nil
	}
	return payment.Payment{}, false, payment.ErrNotFound
}

func (s *memStore) ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]payment.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []payment.Payment
	for _, p := range s.byID {
		if p.Status == payment.StatusPending && p.CreatedAt.Before(olderThan) {
			out = append(out, p)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

// stubGateway scripts provider behavior per test.
type stubGateway struct {
	initCalls   int
	verifyCalls int

	initErr      error
	initRef      string
	lastInit     payment.InitializeRequest
	verifyErr    error
	verifyStatus string
}

func (g *stubGateway) Initialize(ctx context.Context, req payment.InitializeRequest) (payment.InitializeResponse, error) {
	g.initCalls++
	g.lastInit = req
	if g.initErr != nil {
		return payment.InitializeResponse{}, g.initErr
	}
	ref := g.initRef
	if ref == "" {
		ref = "ref-" + uuid.NewString()[:8]
	}
	return payment.InitializeResponse{
		AuthorizationURL: "https://checkout.example/" + ref,
		AccessCode:       "ac_" + ref,
		Reference:        ref,
	}, nil
}

func (g *stubGateway) Verify(ctx context.Context, reference string) (payment.VerifyResponse, error) {
	g.verifyCalls++
	if g.verifyErr != nil {
		return payment.VerifyResponse{}, g.verifyErr
	}
	status := g.verifyStatus
	if status == "" {
		status = "success"
	}
	return payment.VerifyResponse{Status: status, AmountMinor: 500_000, Currency: "NGN"}, nil
}

func (g *stubGateway) VerifyWebhook(r *http.Request, body []byte) (payment.WebhookEvent, error) {
	return payment.WebhookEvent{Valid: true, Payload: body}, nil
}

func newTestService(store payment.Store, gw payment.Gateway, mail common.EmailSender) *payment.Service {
	return payment.NewService(store, gw, payment.PlanAmounts{Default: 5000, Premium: 7000}, mail, "NGN", zerolog.Nop())
}

func TestInitiateRecordsPendingBeforeGateway(t *testing.T) {
	store := newMemStore()
	gw := &stubGateway{initRef: "ref-abc"}
	svc := newTestService(store, gw, nil)

	result, err := svc.Initiate(context.Background(), payment.InitiateInput{
		Email:       "student@example.com",
		CallbackURL: "https://app.example.com/thanks",
	})
	require.NoError(t, err)
	require.Equal(t, "ref-abc", result.Reference)
	require.Equal(t, payment.StatusPending, result.Payment.Status)
	require.Equal(t, int64(5000), result.Payment.Amount)
	require.Equal(t, int64(500_000), gw.lastInit.AmountMinor, "gateway amount must be in minor units")

	stored, err := store.GetByReference(context.Background(), "ref-abc")
	require.NoError(t, err)
	require.Equal(t, payment.StatusPending, stored.Status)
}

func TestInitiatePlanAndCustomAmounts(t *testing.T) {
	cases := []struct {
		name  string
		input payment.InitiateInput
		want  int64
	}{
		{"default plan", payment.InitiateInput{Email: "a@b.co", CallbackURL: "https://x.co/cb"}, 5000},
		{"premium plan", payment.InitiateInput{Email: "a@b.co", CallbackURL: "https://x.co/cb", Plan: "premium"}, 7000},
		{"custom overrides plan", payment.InitiateInput{Email: "a@b.co", CallbackURL: "https://x.co/cb", Plan: "premium", CustomAmount: 12_345}, 12_345},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := newMemStore()
			gw := &stubGateway{}
			svc := newTestService(store, gw, nil)
			result, err := svc.Initiate(context.Background(), tc.input)
			require.NoError(t, err)
			require.Equal(t, tc.want, result.Payment.Amount)
			require.Equal(t, tc.want*100, gw.lastInit.AmountMinor)
		})
	}
}

func TestInitiateValidation(t *testing.T) {
	svc := newTestService(newMemStore(), &stubGateway{}, nil)

	_, err := svc.Initiate(context.Background(), payment.InitiateInput{CallbackURL: "https://x.co/cb"})
	require.True(t, common.HasCode(err, common.CodeValidation))

	_, err = svc.Initiate(context.Background(), payment.InitiateInput{Email: "not-an-email", CallbackURL: "https://x.co/cb"})
	require.True(t, common.HasCode(err, common.CodeValidation))

	_, err = svc.Initiate(context.Background(), payment.InitiateInput{Email: "a@b.co", CallbackURL: "https://x.co/cb", Plan: "platinum"})
	require.True(t, common.HasCode(err, common.CodeValidation))
}

func TestInitiateRejectsExcessiveCustomAmount(t *testing.T) {
	store := newMemStore()
	gw := &stubGateway{}
	svc := newTestService(store, gw, nil)

	_, err := svc.Initiate(context.Background(), payment.InitiateInput{
		Email:        "a@b.co",
		CallbackURL:  "https://x.co/cb",
		CustomAmount: payment.MaxChargeAmount + 1,
	})
	require.True(t, common.HasCode(err, common.CodeValidation),
		"an absurd amount is a client error, not a provider one")
	require.Zero(t, gw.initCalls)
	require.Zero(t, store.created)

	result, err := svc.Initiate(context.Background(), payment.InitiateInput{
		Email:        "a@b.co",
		CallbackURL:  "https://x.co/cb",
		CustomAmount: payment.MaxChargeAmount,
	})
	require.NoError(t, err)
	require.Equal(t, payment.MaxChargeAmount, result.Payment.Amount)
}

func TestInitiateGatewayFailureLeavesPendingRecord(t *testing.T) {
	store := newMemStore()
	gw := &stubGateway{initErr: errors.New("connection refused")}
	svc := newTestService(store, gw, nil)

	_, err := svc.Initiate(context.Background(), payment.InitiateInput{
		Email:       "student@example.com",
		CallbackURL: "https://app.example.com/thanks",
	})
	require.True(t, common.HasCode(err, common.CodeGateway))
	require.Equal(t, 1, store.created, "pending record must exist before the gateway call")

	for _, p := range store.byID {
		require.Equal(t, payment.StatusPending, p.Status)
		require.Empty(t, p.Reference)
	}
}

func TestVerifySettlesSuccessAndSendsReceipt(t *testing.T) {
	store := newMemStore()
	gw := &stubGateway{initRef: "ref-win", verifyStatus: "success"}
	mail := &common.InMemoryEmail{}
	svc := newTestService(store, gw, mail)

	_, err := svc.Initiate(context.Background(), payment.InitiateInput{
		Email:       "student@example.com",
		CallbackURL: "https://app.example.com/thanks",
	})
	require.NoError(t, err)

	result, err := svc.Verify(context.Background(), "ref-win")
	require.NoError(t, err)
	require.Equal(t, payment.StatusSuccess, result.Payment.Status)
	require.NotNil(t, result.Provider)
	require.Len(t, mail.Outbox, 1)
	require.Equal(t, "student@example.com", mail.Outbox[0].To)
}

func TestVerifyIsIdempotentAfterTerminal(t *testing.T) {
	store := newMemStore()
	gw := &stubGateway{initRef: "ref-idem", verifyStatus: "success"}
	mail := &common.InMemoryEmail{}
	svc := newTestService(store, gw, mail)

	_, err := svc.Initiate(context.Background(), payment.InitiateInput{
		Email: "s@x.co", CallbackURL: "https://x.co/cb",
	})
	require.NoError(t, err)

	first, err := svc.Verify(context.Background(), "ref-idem")
	require.NoError(t, err)
	require.Equal(t, payment.StatusSuccess, first.Payment.Status)

	// Provider flips its story; the stored terminal status must not move.
	gw.verifyStatus = "failed"
	second, err := svc.Verify(context.Background(), "ref-idem")
	require.NoError(t, err)
	require.Equal(t, payment.StatusSuccess, second.Payment.Status)
	require.Equal(t, 1, gw.verifyCalls, "terminal records skip the provider round trip")
	require.Len(t, mail.Outbox, 1, "receipt is sent exactly once")
}

func TestVerifyUnknownReference(t *testing.T) {
	svc := newTestService(newMemStore(), &stubGateway{}, nil)
	_, err := svc.Verify(context.Background(), "ref-ghost")
	require.True(t, common.HasCode(err, common.CodeNotFound))
}

func TestVerifyGatewayFailureKeepsPending(t *testing.T) {
	store := newMemStore()
	gw := &stubGateway{initRef: "ref-down"}
	svc := newTestService(store, gw, nil)

	_, err := svc.Initiate(context.Background(), payment.InitiateInput{
		Email: "s@x.co", CallbackURL: "https://x.co/cb",
	})
	require.NoError(t, err)

	gw.verifyErr = errors.New("timeout")
	_, err = svc.Verify(context.Background(), "ref-down")
	require.True(t, common.HasCode(err, common.CodeGateway))

	stored, err := store.GetByReference(context.Background(), "ref-down")
	require.NoError(t, err)
	require.Equal(t, payment.StatusPending, stored.Status)
}

func TestVerifyProviderStillPending(t *testing.T) {
	store := newMemStore()
	gw := &stubGateway{initRef: "ref-wait", verifyStatus: "ongoing"}
	svc := newTestService(store, gw, nil)

	_, err := svc.Initiate(context.Background(), payment.InitiateInput{
		Email: "s@x.co", CallbackURL: "https://x.co/cb",
	})
	require.NoError(t, err)

	result, err := svc.Verify(context.Background(), "ref-wait")
	require.NoError(t, err)
	require.Equal(t, payment.StatusPending, result.Payment.Status)
}

func TestVerifyByIDWithoutReferenceIsClientError(t *testing.T) {
	store := newMemStore()
	gw := &stubGateway{initErr: errors.New("provider down")}
	svc := newTestService(store, gw, nil)

	_, err := svc.Initiate(context.Background(), payment.InitiateInput{
		Email: "s@x.co", CallbackURL: "https://x.co/cb",
	})
	require.True(t, common.HasCode(err, common.CodeGateway))

	var id uuid.UUID
	for k := range store.byID {
		id = k
	}
	_, err = svc.VerifyByID(context.Background(), id)
	require.True(t, common.HasCode(err, common.CodeValidation),
		"uninitialized record must be a client error, not a gateway error")
}

func TestApplySuccessFirstWriteWins(t *testing.T) {
	store := newMemStore()
	gw := &stubGateway{initRef: "ref-race"}
	svc := newTestService(store, gw, nil)

	_, err := svc.Initiate(context.Background(), payment.InitiateInput{
		Email: "s@x.co", CallbackURL: "https://x.co/cb",
	})
	require.NoError(t, err)

	_, applied, err := svc.ApplySuccess(context.Background(), "ref-race")
	require.NoError(t, err)
	require.True(t, applied)

	record, applied, err := svc.ApplySuccess(context.Background(), "ref-race")
	require.NoError(t, err)
	require.False(t, applied)
	require.Equal(t, payment.StatusSuccess, record.Status)
}

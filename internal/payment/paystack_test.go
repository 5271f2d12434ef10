package payment_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/academyhq/academy-api/internal/common"
	"github.com/academyhq/academy-api/internal/payment"
	"github.com/academyhq/academy-api/internal/resilience"
)

func newPaystack(baseURL string) payment.Paystack {
	return payment.Paystack{
		SecretKey: "sk_test_secret",
		BaseURL:   baseURL,
		HTTP:      &resilience.HTTPClient{Client: http.DefaultClient, MaxAttempts: 1, Target: "paystack"},
	}
}

func TestPaystackInitialize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/transaction/initialize", r.URL.Path)
		require.Equal(t, "Bearer sk_test_secret", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"status": true,
			"message": "Authorization URL created",
			"data": {
				"authorization_url": "https://checkout.paystack.com/abc123",
				"access_code": "abc123",
				"reference": "ref-init-1"
			}
		}`))
	}))
	defer srv.Close()

	resp, err := newPaystack(srv.URL).Initialize(context.Background(), payment.InitializeRequest{
		Email:       "student@example.com",
		AmountMinor: 500_000,
		CallbackURL: "https://app.example.com/thanks",
	})
	require.NoError(t, err)
	require.Equal(t, "ref-init-1", resp.Reference)
	require.Equal(t, "https://checkout.paystack.com/abc123", resp.AuthorizationURL)
}

func TestPaystackInitializeRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"status": false, "message": "Invalid amount"}`))
	}))
	defer srv.Close()

	_, err := newPaystack(srv.URL).Initialize(context.Background(), payment.InitializeRequest{
		Email:       "student@example.com",
		AmountMinor: 1,
		CallbackURL: "https://app.example.com/thanks",
	})
	require.True(t, common.HasCode(err, common.CodeGateway))
}

func TestPaystackInitializeMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>gateway error</html>`))
	}))
	defer srv.Close()

	_, err := newPaystack(srv.URL).Initialize(context.Background(), payment.InitializeRequest{
		Email:       "student@example.com",
		AmountMinor: 500_000,
		CallbackURL: "https://app.example.com/thanks",
	})
	require.True(t, common.HasCode(err, common.CodeGateway))
}

func TestPaystackVerify(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/transaction/verify/ref-v-1", r.URL.Path)
		_, _ = w.Write([]byte(`{
			"status": true,
			"message": "Verification successful",
			"data": {
				"status": "success",
				"amount": 500000,
				"currency": "NGN",
				"customer": {"email": "student@example.com"}
			}
		}`))
	}))
	defer srv.Close()

	resp, err := newPaystack(srv.URL).Verify(context.Background(), "ref-v-1")
	require.NoError(t, err)
	require.Equal(t, "success", resp.Status)
	require.Equal(t, int64(500_000), resp.AmountMinor)
	require.Equal(t, "student@example.com", resp.CustomerEmail)
}

func TestPaystackVerifyProviderDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := newPaystack(srv.URL).Verify(context.Background(), "ref-v-2")
	require.True(t, common.HasCode(err, common.CodeGateway))
}

func TestPaystackVerifyWebhookSignature(t *testing.T) {
	gw := payment.Paystack{SecretKey: webhookSecret}
	body := []byte(`{"event":"charge.success","data":{"reference":"ref-sig","amount":500000}}`)

	req := httptest.NewRequest(http.MethodPost, "/webhook", nil)
	req.Header.Set("X-Paystack-Signature", signBody(webhookSecret, body))
	event, err := gw.VerifyWebhook(req, body)
	require.NoError(t, err)
	require.True(t, event.Valid)
	require.Equal(t, "charge.success", event.Event)
	require.Equal(t, "ref-sig", event.Reference)
	require.Equal(t, int64(500_000), event.Amount)

	req.Header.Set("X-Paystack-Signature", signBody("wrong-secret", body))
	event, err = gw.VerifyWebhook(req, body)
	require.NoError(t, err)
	require.False(t, event.Valid)
}

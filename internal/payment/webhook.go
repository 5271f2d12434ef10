package payment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/academyhq/academy-api/internal/common"
	"github.com/academyhq/academy-api/internal/obs"
)

type replayStore interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// maxWebhookBody caps how much of a webhook payload is buffered.
const maxWebhookBody = 512 << 10

// Webhook receives provider callbacks and settles the referenced payment.
//
// The provider retries any non-2xx response, so every delivery that cannot
// change state anyway (duplicates, unknown references, uninteresting events)
// is acknowledged with 200. Only a signature mismatch and a genuine storage
// failure refuse the delivery.
type Webhook struct {
	Svc       *Service
	Gateway   Gateway
	Replay    replayStore
	ReplayTTL time.Duration
	Logger    zerolog.Logger
}

// Handle processes a provider webhook delivery.
func (h Webhook) Handle(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("payment.Webhook").Start(r.Context(), "PaymentWebhook.Handle")
	defer span.End()

	outcome := "error"
	defer func() {
		obs.PaymentWebhookTotal.WithLabelValues(outcome).Inc()
	}()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		span.RecordError(err)
		outcome = "bad_request"
		common.JSONError(w, http.StatusBadRequest, "unable to read payload")
		return
	}

	event, err := h.Gateway.VerifyWebhook(r, body)
	if err != nil {
		span.RecordError(err)
		common.JSONError(w, http.StatusInternalServerError, "webhook verification failed")
		return
	}
	if !event.Valid {
		span.AddEvent("webhook signature rejected")
		h.Logger.Warn().
			Err(event.Err).
			Str("remote_ip", common.ClientIP(r)).
			Msg("webhook rejected")
		outcome = "invalid_signature"
		common.JSONError(w, http.StatusUnauthorized, "invalid signature")
		return
	}
	span.SetAttributes(
		attribute.String("payment.webhook.event", event.Event),
		attribute.String("payment.reference", event.Reference),
	)

	var replayKey string
	if h.Replay != nil {
		replayKey = fmt.Sprintf("pswh:%s", common.Sha256Hex(string(body)))
		fresh, err := h.Replay.SetNX(ctx, replayKey, "1", h.ReplayTTL).Result()
		if err != nil {
			span.RecordError(err)
			common.JSONError(w, http.StatusInternalServerError, "replay protection failed")
			return
		}
		if !fresh {
			span.AddEvent("webhook replay acknowledged")
			outcome = "duplicate"
			h.acknowledge(w)
			return
		}
	}

	if event.Event != "charge.success" {
		outcome = "ignored"
		h.acknowledge(w)
		return
	}
	if event.Reference == "" {
		outcome = "ignored"
		h.acknowledge(w)
		return
	}

	record, applied, err := h.Svc.ApplySuccess(ctx, event.Reference)
	switch {
	case err == nil && applied:
		outcome = "applied"
	case err == nil:
		// Already terminal or unknown state; the first write wins.
		outcome = "noop"
		h.Logger.Debug().
			Str("reference", event.Reference).
			Str("status", string(record.Status)).
			Msg("webhook left payment unchanged")
	case common.HasCode(err, common.CodeNotFound) || errors.Is(err, ErrNotFound):
		outcome = "unknown_reference"
		h.Logger.Warn().Str("reference", event.Reference).Msg("webhook for unknown reference")
	default:
		span.RecordError(err)
		h.Logger.Error().Err(err).Str("reference", event.Reference).Msg("webhook apply failed")
		// A 500 makes the provider redeliver the same payload; the replay key
		// must not be left behind or the retry would be swallowed as a
		// duplicate without the state change ever applying.
		if h.Replay != nil {
			if delErr := h.Replay.Del(context.WithoutCancel(ctx), replayKey).Err(); delErr != nil {
				h.Logger.Error().Err(delErr).Str("reference", event.Reference).Msg("release webhook replay key failed")
			}
		}
		common.JSONError(w, http.StatusInternalServerError, "could not record payment")
		return
	}
	h.acknowledge(w)
}

func (h Webhook) acknowledge(w http.ResponseWriter) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("Webhook received"))
}


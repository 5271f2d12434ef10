package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/academyhq/academy-api/internal/common"
	"github.com/academyhq/academy-api/internal/obs"
)

// PlanAmounts holds the chargeable plan prices in major currency units.
type PlanAmounts struct {
	Default int64
	Premium int64
}

// Service coordinates payment persistence and the provider gateway.
type Service struct {
	Store    Store
	Gateway  Gateway
	Plans    PlanAmounts
	Mail     common.EmailSender
	Currency string
	Logger   zerolog.Logger

	validate *validator.Validate
	tracer   trace.Tracer
}

func NewService(store Store, gw Gateway, plans PlanAmounts, mail common.EmailSender, currency string, logger zerolog.Logger) *Service {
	if mail == nil {
		mail = common.NopEmailSender{}
	}
	return &Service{
		Store:    store,
		Gateway:  gw,
		Plans:    plans,
		Mail:     mail,
		Currency: currency,
		Logger:   logger,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		tracer:   otel.Tracer("payment"),
	}
}

// MaxChargeAmount caps a single charge in major currency units. Keeping it
// well under math.MaxInt64/100 means the minor-unit conversion can never
// overflow.
const MaxChargeAmount int64 = 100_000_000

// InitiateInput is the client request to start a payment.
type InitiateInput struct {
	Email        string `json:"email" validate:"required,email"`
	CallbackURL  string `json:"callback_url" validate:"required,url"`
	Plan         string `json:"plan"`
	CustomAmount int64  `json:"customAmount" validate:"omitempty,gt=0,lte=100000000"`
}

// InitiateResult carries what the client needs to complete checkout.
type InitiateResult struct {
	Payment          Payment `json:"payment"`
	AuthorizationURL string  `json:"authorization_url"`
	AccessCode       string  `json:"access_code"`
	Reference        string  `json:"reference"`
}

// VerifyResult reports the record state after consulting the provider.
type VerifyResult struct {
	Payment  Payment         `json:"payment"`
	Provider *VerifyResponse `json:"provider,omitempty"`
}

// Initiate records a pending payment and opens a provider transaction.
//
// The pending row is written before the gateway is contacted, so a provider
// outage always leaves an auditable record with an empty reference.
func (s *Service) Initiate(ctx context.Context, in InitiateInput) (InitiateResult, error) {
	ctx, span := s.tracer.Start(ctx, "payment.initiate")
	defer span.End()

	var zero InitiateResult
	if err := s.validate.Struct(in); err != nil {
		obs.PaymentInitTotal.WithLabelValues("invalid").Inc()
		return zero, common.NewValidationError(validationMessage(err))
	}
	amount, err := s.resolveAmount(in)
	if err != nil {
		obs.PaymentInitTotal.WithLabelValues("invalid").Inc()
		return zero, err
	}
	span.SetAttributes(attribute.Int64("payment.amount", amount))

	record, err := s.Store.Create(ctx, Payment{
		PayerEmail:  strings.ToLower(strings.TrimSpace(in.Email)),
		Amount:      amount,
		Status:      StatusPending,
		CallbackURL: in.CallbackURL,
	})
	if err != nil {
		obs.PaymentInitTotal.WithLabelValues("error").Inc()
		return zero, fmt.Errorf("create payment record: %w", err)
	}

	initResp, err := s.Gateway.Initialize(ctx, InitializeRequest{
		Email:       record.PayerEmail,
		AmountMinor: amount * 100,
		CallbackURL: record.CallbackURL,
	})
	if err != nil {
		// The pending row stays behind with an empty reference; the
		// reconciliation sweep surfaces it as part of the gap.
		s.Logger.Error().Err(err).Str("payment_id", record.ID.String()).Msg("gateway initialize failed")
		obs.PaymentInitTotal.WithLabelValues("gateway_error").Inc()
		if common.HasCode(err, common.CodeGateway) {
			return zero, err
		}
		return zero, common.NewGatewayError("could not reach payment provider", err)
	}

	if err := s.Store.SetReference(ctx, record.ID, initResp.Reference); err != nil {
		obs.PaymentInitTotal.WithLabelValues("error").Inc()
		return zero, fmt.Errorf("record payment reference: %w", err)
	}
	record.Reference = initResp.Reference

	obs.PaymentInitTotal.WithLabelValues("ok").Inc()
	s.Logger.Info().
		Str("payment_id", record.ID.String()).
		Str("reference", record.Reference).
		Int64("amount", record.Amount).
		Msg("payment initiated")

	return InitiateResult{
		Payment:          record,
		AuthorizationURL: initResp.AuthorizationURL,
		AccessCode:       initResp.AccessCode,
		Reference:        initResp.Reference,
	}, nil
}

func (s *Service) resolveAmount(in InitiateInput) (int64, error) {
	if in.CustomAmount > 0 {
		return in.CustomAmount, nil
	}
	switch strings.ToLower(strings.TrimSpace(in.Plan)) {
	case "", "default":
		return s.Plans.Default, nil
	case "premium":
		return s.Plans.Premium, nil
	default:
		return 0, common.NewValidationError("unknown plan: " + in.Plan)
	}
}

// Verify re-checks a payment against the provider and settles its status.
// Terminal records are returned as-is without a provider round trip; their
// status never regresses no matter what the provider reports later.
func (s *Service) Verify(ctx context.Context, reference string) (VerifyResult, error) {
	ctx, span := s.tracer.Start(ctx, "payment.verify",
		trace.WithAttributes(attribute.String("payment.reference", reference)))
	defer span.End()

	var zero VerifyResult
	reference = strings.TrimSpace(reference)
	if reference == "" {
		obs.PaymentVerifyTotal.WithLabelValues("invalid").Inc()
		return zero, common.NewValidationError("reference is required")
	}

	record, err := s.Store.GetByReference(ctx, reference)
	if errors.Is(err, ErrNotFound) {
		obs.PaymentVerifyTotal.WithLabelValues("not_found").Inc()
		return zero, common.NewNotFoundError("no payment with reference " + reference)
	}
	if err != nil {
		obs.PaymentVerifyTotal.WithLabelValues("error").Inc()
		return zero, err
	}
	if record.Status.Terminal() {
		obs.PaymentVerifyTotal.WithLabelValues("settled").Inc()
		return VerifyResult{Payment: record}, nil
	}

	provider, err := s.Gateway.Verify(ctx, reference)
	if err != nil {
		s.Logger.Error().Err(err).Str("reference", reference).Msg("gateway verify failed")
		obs.PaymentVerifyTotal.WithLabelValues("gateway_error").Inc()
		if common.HasCode(err, common.CodeGateway) {
			return zero, err
		}
		return zero, common.NewGatewayError("could not verify payment with provider", err)
	}

	next := normalizeProviderStatus(provider.Status)
	if next == StatusPending {
		obs.PaymentVerifyTotal.WithLabelValues("pending").Inc()
		return VerifyResult{Payment: record, Provider: &provider}, nil
	}

	record, err = s.settle(ctx, reference, next)
	if err != nil {
		obs.PaymentVerifyTotal.WithLabelValues("error").Inc()
		return zero, err
	}
	obs.PaymentVerifyTotal.WithLabelValues(string(record.Status)).Inc()
	return VerifyResult{Payment: record, Provider: &provider}, nil
}

// VerifyByID settles a payment looked up by its internal id. Records that
// never received a provider reference cannot be verified; that is a client
// error, not a provider failure.
func (s *Service) VerifyByID(ctx context.Context, id uuid.UUID) (VerifyResult, error) {
	record, err := s.Store.GetByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return VerifyResult{}, common.NewNotFoundError("no payment with id " + id.String())
	}
	if err != nil {
		return VerifyResult{}, err
	}
	if !record.Initialized() {
		return VerifyResult{}, common.NewValidationError("payment was never initialized with the provider")
	}
	return s.Verify(ctx, record.Reference)
}

// ApplySuccess records a provider-confirmed success for a reference. The
// returned bool reports whether this call performed the transition.
func (s *Service) ApplySuccess(ctx context.Context, reference string) (Payment, bool, error) {
	record, applied, err := s.Store.TransitionStatus(ctx, reference, StatusPending, StatusSuccess)
	if err != nil {
		return Payment{}, false, err
	}
	if applied {
		s.notifySuccess(record)
		s.Logger.Info().Str("reference", reference).Msg("payment settled as success")
	}
	return record, applied, nil
}

func (s *Service) settle(ctx context.Context, reference string, next Status) (Payment, error) {
	record, applied, err := s.Store.TransitionStatus(ctx, reference, StatusPending, next)
	if err != nil {
		return Payment{}, err
	}
	if applied {
		if next == StatusSuccess {
			s.notifySuccess(record)
		}
		s.Logger.Info().
			Str("reference", reference).
			Str("status", string(next)).
			Msg("payment settled")
	}
	return record, nil
}

func (s *Service) notifySuccess(p Payment) {
	subject := "Payment received"
	body := fmt.Sprintf("<p>Your payment of %d %s was successful. Reference: %s</p>",
		p.Amount, s.Currency, p.Reference)
	if err := s.Mail.Send(p.PayerEmail, subject, body); err != nil {
		s.Logger.Warn().Err(err).Str("reference", p.Reference).Msg("receipt email failed")
	}
}

// normalizeProviderStatus maps provider status strings onto the local state
// machine. Unknown values stay pending so the reconciler retries them.
func normalizeProviderStatus(status string) Status {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "success", "successful":
		return StatusSuccess
	case "failed", "abandoned", "reversed":
		return StatusFailed
	default:
		return StatusPending
	}
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		switch fe.Tag() {
		case "required":
			return fmt.Sprintf("%s is required", strings.ToLower(fe.Field()))
		case "email":
			return "email must be a valid email address"
		case "url":
			return "callback_url must be a valid URL"
		case "gt":
			return fmt.Sprintf("%s must be greater than %s", strings.ToLower(fe.Field()), fe.Param())
		case "lte":
			return fmt.Sprintf("%s must not exceed %s", strings.ToLower(fe.Field()), fe.Param())
		}
		return fmt.Sprintf("%s is invalid", strings.ToLower(fe.Field()))
	}
	return "invalid request"
}

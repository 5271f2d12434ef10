package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotFound           = errors.New("payment not found")
	ErrDuplicateReference = errors.New("payment reference already recorded")
)

// Store persists payment records.
type Store interface {
	Create(ctx context.Context, p Payment) (Payment, error)
	SetReference(ctx context.Context, id uuid.UUID, reference string) error
	GetByID(ctx context.Context, id uuid.UUID) (Payment, error)
	GetByReference(ctx context.Context, reference string) (Payment, error)
	// TransitionStatus moves a payment from `from` to `to` atomically. The
	// returned bool reports whether the transition applied; when it did not,
	// the returned payment carries the current row so callers can inspect
	// the status that won.
	TransitionStatus(ctx context.Context, reference string, from, to Status) (Payment, bool, error)
	// ListStalePending returns pending payments older than the cutoff,
	// oldest first, up to limit rows.
	ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]Payment, error)
}

// PGStore is the pgx-backed Store.
type PGStore struct {
	Pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{Pool: pool}
}

const paymentColumns = `id, payer_email, amount, reference, status, callback_url, created_at, updated_at`

func scanPayment(row pgx.Row) (Payment, error) {
	var p Payment
	err := row.Scan(&p.ID, &p.PayerEmail, &p.Amount, &p.Reference, &p.Status, &p.CallbackURL, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Payment{}, ErrNotFound
	}
	if err != nil {
		return Payment{}, fmt.Errorf("scan payment: %w", err)
	}
	return p, nil
}

func (s *PGStore) Create(ctx context.Context, p Payment) (Payment, error) {
	if p.Status == "" {
		p.Status = StatusPending
	}
	row := s.Pool.QueryRow(ctx, `
		INSERT INTO payments (payer_email, amount, reference, status, callback_url)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+paymentColumns,
		p.PayerEmail, p.Amount, p.Reference, p.Status, p.CallbackURL,
	)
	created, err := scanPayment(row)
	if err != nil {
		if isUniqueViolation(err) {
			return Payment{}, ErrDuplicateReference
		}
		return Payment{}, fmt.Errorf("create payment: %w", err)
	}
	return created, nil
}

func (s *PGStore) SetReference(ctx context.Context, id uuid.UUID, reference string) error {
	tag, err := s.Pool.Exec(ctx, `
		UPDATE payments SET reference = $2, updated_at = now()
		WHERE id = $1 AND reference = ''`,
		id, reference,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateReference
		}
		return fmt.Errorf("set payment reference: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) GetByID(ctx context.Context, id uuid.UUID) (Payment, error) {
	row := s.Pool.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id)
	return scanPayment(row)
}

func (s *PGStore) GetByReference(ctx context.Context, reference string) (Payment, error) {
	if reference == "" {
		return Payment{}, ErrNotFound
	}
	row := s.Pool.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE reference = $1`, reference)
	return scanPayment(row)
}

func (s *PGStore) TransitionStatus(ctx context.Context, reference string, from, to Status) (Payment, bool, error) {
	row := s.Pool.QueryRow(ctx, `
		UPDATE payments SET status = $3, updated_at = now()
		WHERE reference = $1 AND status = $2
		RETURNING `+paymentColumns,
		reference, from, to,
	)
	p, err := scanPayment(row)
	if err == nil {
		return p, true, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Payment{}, false, fmt.Errorf("transition payment status: %w", err)
	}
	// No row matched the compare-and-set; report the current state.
	current, getErr := s.GetByReference(ctx, reference)
	if getErr != nil {
		return Payment{}, false, getErr
	}
	return current, false, nil
}

func (s *PGStore) ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]Payment, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.Pool.Query(ctx, `
		SELECT `+paymentColumns+` FROM payments
		WHERE status = $1 AND created_at < $2
		ORDER BY created_at ASC
		LIMIT $3`,
		StatusPending, olderThan, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list stale pending payments: %w", err)
	}
	defer rows.Close()

	var out []Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list stale pending payments: %w", err)
	}
	return out, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

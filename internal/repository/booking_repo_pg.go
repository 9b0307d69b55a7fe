package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Domenick1991/bookingcore/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pgSchema = `
CREATE TABLE IF NOT EXISTS bookings (
	id                  TEXT PRIMARY KEY,
	reference           TEXT NOT NULL,
	owner_id            TEXT NOT NULL,
	kind                TEXT NOT NULL,
	status              TEXT NOT NULL,
	details             JSONB NOT NULL DEFAULT '{}',
	currency            TEXT NOT NULL,
	total               BIGINT NOT NULL,
	paid_amount         BIGINT NOT NULL DEFAULT 0,
	refunded_amount     BIGINT NOT NULL DEFAULT 0,
	cancellation_fee    BIGINT NOT NULL DEFAULT 0,
	payment_status      TEXT NOT NULL,
	cancellation_reason TEXT NOT NULL DEFAULT '',
	created_at          TIMESTAMPTZ NOT NULL,
	updated_at          TIMESTAMPTZ NOT NULL,
	confirmed_at        TIMESTAMPTZ,
	cancelled_at        TIMESTAMPTZ,
	completed_at        TIMESTAMPTZ,
	expires_at          TIMESTAMPTZ,
	CONSTRAINT bookings_reference_key UNIQUE (reference),
	CONSTRAINT bookings_amounts_check CHECK (refunded_amount <= paid_amount AND paid_amount <= total)
);
CREATE INDEX IF NOT EXISTS idx_bookings_owner ON bookings (owner_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_bookings_pending_expiry ON bookings (expires_at) WHERE status = 'pending';
CREATE TABLE IF NOT EXISTS payment_ledger (
	booking_id         TEXT PRIMARY KEY REFERENCES bookings (id),
	provider_reference TEXT NOT NULL,
	currency           TEXT NOT NULL,
	amount_captured    BIGINT NOT NULL,
	amount_refunded    BIGINT NOT NULL DEFAULT 0,
	status             TEXT NOT NULL,
	refund_references  JSONB NOT NULL DEFAULT '[]',
	created_at         TIMESTAMPTZ NOT NULL,
	updated_at         TIMESTAMPTZ NOT NULL
);
`

const pgSelectBooking = `SELECT b.id, b.reference, b.owner_id, b.kind, b.status, b.details, b.currency, b.total,
	b.paid_amount, b.refunded_amount, b.cancellation_fee, b.payment_status, b.cancellation_reason,
	b.created_at, b.updated_at, b.confirmed_at, b.cancelled_at, b.completed_at, b.expires_at,
	l.booking_id, l.provider_reference, l.currency, l.amount_captured, l.amount_refunded, l.status,
	l.refund_references, l.created_at, l.updated_at
	FROM bookings b LEFT JOIN payment_ledger l ON l.booking_id = b.id`

type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PGBookingRepository struct {
	db          *pgxpool.Pool
	lockTimeout time.Duration
}

func NewBookingRepository(db *pgxpool.Pool, lockTimeout time.Duration) *PGBookingRepository {
	return &PGBookingRepository{db: db, lockTimeout: lockTimeout}
}

// EnsureSchema creates the tables if they do not exist.
func (r *PGBookingRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, pgSchema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (r *PGBookingRepository) Create(ctx context.Context, booking *domain.Booking) error {
	if err := validateForWrite(booking); err != nil {
		return err
	}
	rec, err := toRecord(booking)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return mapPGError(err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `INSERT INTO bookings (id, reference, owner_id, kind, status, details, currency, total,
		paid_amount, refunded_amount, cancellation_fee, payment_status, cancellation_reason,
		created_at, updated_at, confirmed_at, cancelled_at, completed_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
		rec.ID, rec.Reference, rec.OwnerID, rec.Kind, rec.Status, rec.Details, rec.Currency, rec.Total,
		rec.PaidAmount, rec.RefundedAmount, rec.CancellationFee, rec.PaymentStatus, rec.CancellationReason,
		rec.CreatedAt, rec.UpdatedAt, rec.ConfirmedAt, rec.CancelledAt, rec.CompletedAt, rec.ExpiresAt); err != nil {
		return mapPGError(err)
	}
	if err := r.writeLedger(ctx, tx, booking.Ledger); err != nil {
		return err
	}
	return mapPGError(tx.Commit(ctx))
}

func (r *PGBookingRepository) FindByID(ctx context.Context, id string) (*domain.Booking, error) {
	return r.get(ctx, r.db, pgSelectBooking+` WHERE b.id = $1`, id)
}

func (r *PGBookingRepository) FindByReference(ctx context.Context, reference string) (*domain.Booking, error) {
	return r.get(ctx, r.db, pgSelectBooking+` WHERE b.reference = $1`, reference)
}

func (r *PGBookingRepository) FindByOwner(ctx context.Context, ownerID string, filter OwnerFilter) ([]*domain.Booking, error) {
	rows, err := r.db.Query(ctx, pgSelectBooking+` WHERE b.owner_id = $1
		AND ($2 = '' OR b.status = $2) AND ($3 = '' OR b.kind = $3)
		ORDER BY b.created_at DESC, b.id LIMIT $4`,
		ownerID, string(filter.Status), string(filter.Kind), listLimit(filter.Limit))
	if err != nil {
		return nil, mapPGError(err)
	}
	defer rows.Close()

	var out []*domain.Booking
	for rows.Next() {
		b, err := scanPGBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, mapPGError(rows.Err())
}

func (r *PGBookingRepository) Update(ctx context.Context, booking *domain.Booking) error {
	_, err := r.Mutate(ctx, booking.ID, func(current *domain.Booking) error {
		*current = *booking.Clone()
		return nil
	})
	return err
}

// Mutate locks the booking row with SELECT ... FOR UPDATE for the duration of fn.
func (r *PGBookingRepository) Mutate(ctx context.Context, id string, fn MutateFunc) (*domain.Booking, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, mapPGError(err)
	}
	defer tx.Rollback(ctx)

	if r.lockTimeout > 0 {
		if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", r.lockTimeout.Milliseconds())); err != nil {
			return nil, mapPGError(err)
		}
	}

	stored, err := r.get(ctx, tx, pgSelectBooking+` WHERE b.id = $1 FOR UPDATE OF b`, id)
	if err != nil {
		return nil, err
	}
	next := stored.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	if err := validateForWrite(next); err != nil {
		return nil, err
	}
	if err := checkImmutable(stored, next); err != nil {
		return nil, err
	}
	if err := r.write(ctx, tx, next); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, mapPGError(err)
	}
	return next, nil
}

func (r *PGBookingRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]string, error) {
	return r.listIDs(ctx, `SELECT id FROM bookings WHERE status = 'pending' AND expires_at < $1
		ORDER BY expires_at LIMIT $2`, now, listLimit(limit))
}

func (r *PGBookingRepository) ListAwaitingRefund(ctx context.Context, limit int) ([]string, error) {
	return r.listIDs(ctx, `SELECT b.id FROM bookings b JOIN payment_ledger l ON l.booking_id = b.id
		WHERE b.status = 'cancelled' AND LEAST(b.total - b.cancellation_fee, b.paid_amount) > b.refunded_amount
		ORDER BY b.updated_at LIMIT $1`, listLimit(limit))
}

func (r *PGBookingRepository) listIDs(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, mapPGError(err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, mapPGError(err)
		}
		ids = append(ids, id)
	}
	return ids, mapPGError(rows.Err())
}

func (r *PGBookingRepository) get(ctx context.Context, q pgQuerier, query string, arg any) (*domain.Booking, error) {
	return scanPGBooking(q.QueryRow(ctx, query, arg))
}

func (r *PGBookingRepository) write(ctx context.Context, q pgQuerier, b *domain.Booking) error {
	rec, err := toRecord(b)
	if err != nil {
		return err
	}
	cmd, err := q.Exec(ctx, `UPDATE bookings SET status=$2, details=$3, currency=$4, total=$5, paid_amount=$6,
		refunded_amount=$7, cancellation_fee=$8, payment_status=$9, cancellation_reason=$10, updated_at=$11,
		confirmed_at=$12, cancelled_at=$13, completed_at=$14, expires_at=$15
		WHERE id=$1`,
		rec.ID, rec.Status, rec.Details, rec.Currency, rec.Total, rec.PaidAmount,
		rec.RefundedAmount, rec.CancellationFee, rec.PaymentStatus, rec.CancellationReason, rec.UpdatedAt,
		rec.ConfirmedAt, rec.CancelledAt, rec.CompletedAt, rec.ExpiresAt)
	if err != nil {
		return mapPGError(err)
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return r.writeLedger(ctx, q, b.Ledger)
}

func (r *PGBookingRepository) writeLedger(ctx context.Context, q pgQuerier, l *domain.LedgerEntry) error {
	if l == nil {
		return nil
	}
	rec, err := toLedgerRecord(l)
	if err != nil {
		return err
	}
	_, err = q.Exec(ctx, `INSERT INTO payment_ledger (booking_id, provider_reference, currency, amount_captured,
		amount_refunded, status, refund_references, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (booking_id) DO UPDATE SET amount_refunded = EXCLUDED.amount_refunded,
		status = EXCLUDED.status, refund_references = EXCLUDED.refund_references, updated_at = EXCLUDED.updated_at`,
		rec.BookingID, rec.ProviderReference, rec.Currency, rec.AmountCaptured,
		rec.AmountRefunded, rec.Status, rec.RefundReferences, rec.CreatedAt, rec.UpdatedAt)
	return mapPGError(err)
}

func scanPGBooking(row pgx.Row) (*domain.Booking, error) {
	var (
		rec bookingRecord

		ledgerID, providerRef, ledgerCurrency, ledgerStatus *string
		captured, refunded                                  *int64
		refundRefs                                          []byte
		ledgerCreated, ledgerUpdated                        *time.Time
	)
	if err := row.Scan(&rec.ID, &rec.Reference, &rec.OwnerID, &rec.Kind, &rec.Status, &rec.Details, &rec.Currency,
		&rec.Total, &rec.PaidAmount, &rec.RefundedAmount, &rec.CancellationFee, &rec.PaymentStatus,
		&rec.CancellationReason, &rec.CreatedAt, &rec.UpdatedAt, &rec.ConfirmedAt, &rec.CancelledAt,
		&rec.CompletedAt, &rec.ExpiresAt,
		&ledgerID, &providerRef, &ledgerCurrency, &captured, &refunded, &ledgerStatus,
		&refundRefs, &ledgerCreated, &ledgerUpdated); err != nil {
		return nil, mapPGError(err)
	}

	b, err := rec.toDomain()
	if err != nil {
		return nil, err
	}
	if ledgerID != nil {
		l, err := ledgerRecord{
			BookingID:         *ledgerID,
			ProviderReference: deref(providerRef),
			Currency:          deref(ledgerCurrency),
			AmountCaptured:    deref(captured),
			AmountRefunded:    deref(refunded),
			Status:            deref(ledgerStatus),
			RefundReferences:  refundRefs,
			CreatedAt:         deref(ledgerCreated),
			UpdatedAt:         deref(ledgerUpdated),
		}.toDomain()
		if err != nil {
			return nil, err
		}
		b.Ledger = l
	}
	return b, nil
}

// mapPGError folds driver errors into the domain taxonomy.
func mapPGError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			if pgErr.ConstraintName == "bookings_reference_key" {
				return fmt.Errorf("%w: %s", domain.ErrReferenceConflict, pgErr.Detail)
			}
			return fmt.Errorf("%w: %s", ErrDuplicateID, pgErr.Detail)
		case "55P03", "57014":
			return fmt.Errorf("%w: %s", domain.ErrUnavailable, pgErr.Message)
		case "23514":
			return fmt.Errorf("%w: %s", domain.ErrValidation, pgErr.Message)
		}
	}
	return fmt.Errorf("%w: %v", domain.ErrUnavailable, err)
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}

var _ BookingRepository = (*PGBookingRepository)(nil)

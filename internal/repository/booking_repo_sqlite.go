package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Domenick1991/bookingcore/internal/domain"
	"github.com/mattn/go-sqlite3"
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS bookings (
		id                  TEXT PRIMARY KEY,
		reference           TEXT NOT NULL UNIQUE,
		owner_id            TEXT NOT NULL,
		kind                TEXT NOT NULL,
		status              TEXT NOT NULL,
		details             TEXT NOT NULL DEFAULT '{}',
		currency            TEXT NOT NULL,
		total               INTEGER NOT NULL,
		paid_amount         INTEGER NOT NULL DEFAULT 0,
		refunded_amount     INTEGER NOT NULL DEFAULT 0,
		cancellation_fee    INTEGER NOT NULL DEFAULT 0,
		payment_status      TEXT NOT NULL,
		cancellation_reason TEXT NOT NULL DEFAULT '',
		created_at          INTEGER NOT NULL,
		updated_at          INTEGER NOT NULL,
		confirmed_at        INTEGER,
		cancelled_at        INTEGER,
		completed_at        INTEGER,
		expires_at          INTEGER
	)`,
	`CREATE TABLE IF NOT EXISTS payment_ledger (
		booking_id         TEXT PRIMARY KEY REFERENCES bookings (id),
		provider_reference TEXT NOT NULL,
		currency           TEXT NOT NULL,
		amount_captured    INTEGER NOT NULL,
		amount_refunded    INTEGER NOT NULL DEFAULT 0,
		status             TEXT NOT NULL,
		refund_references  TEXT NOT NULL DEFAULT '[]',
		created_at         INTEGER NOT NULL,
		updated_at         INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_bookings_owner ON bookings (owner_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_bookings_status_expiry ON bookings (status, expires_at)`,
}

const sqliteSelectBooking = `SELECT b.id, b.reference, b.owner_id, b.kind, b.status, b.details, b.currency, b.total,
	b.paid_amount, b.refunded_amount, b.cancellation_fee, b.payment_status, b.cancellation_reason,
	b.created_at, b.updated_at, b.confirmed_at, b.cancelled_at, b.completed_at, b.expires_at,
	l.booking_id, l.provider_reference, l.currency, l.amount_captured, l.amount_refunded, l.status,
	l.refund_references, l.created_at, l.updated_at
	FROM bookings b LEFT JOIN payment_ledger l ON l.booking_id = b.id`

type sqlQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

// SQLiteBookingRepository stores bookings in a single SQLite file. Write
// transactions start with BEGIN IMMEDIATE, so mutations are serialized by the
// database write lock and wait at most busyTimeout for it.
type SQLiteBookingRepository struct {
	db *sql.DB
}

func NewSQLiteBookingRepository(path string, busyTimeout time.Duration) (*SQLiteBookingRepository, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_txlock=immediate&_busy_timeout=%d&_journal_mode=WAL&_foreign_keys=on",
		path, busyTimeout.Milliseconds())
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	for _, query := range sqliteSchema {
		if _, err := db.Exec(query); err != nil {
			db.Close()
			return nil, fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return &SQLiteBookingRepository{db: db}, nil
}

func (r *SQLiteBookingRepository) Close() error {
	return r.db.Close()
}

func (r *SQLiteBookingRepository) Create(ctx context.Context, booking *domain.Booking) error {
	if err := validateForWrite(booking); err != nil {
		return err
	}
	rec, err := toRecord(booking)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return mapSQLiteError(err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `INSERT INTO bookings (id, reference, owner_id, kind, status, details, currency,
		total, paid_amount, refunded_amount, cancellation_fee, payment_status, cancellation_reason,
		created_at, updated_at, confirmed_at, cancelled_at, completed_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Reference, rec.OwnerID, rec.Kind, rec.Status, string(rec.Details), rec.Currency,
		rec.Total, rec.PaidAmount, rec.RefundedAmount, rec.CancellationFee, rec.PaymentStatus, rec.CancellationReason,
		unixNano(rec.CreatedAt), unixNano(rec.UpdatedAt), nullUnixNano(rec.ConfirmedAt), nullUnixNano(rec.CancelledAt),
		nullUnixNano(rec.CompletedAt), nullUnixNano(rec.ExpiresAt)); err != nil {
		return mapSQLiteError(err)
	}
	if err := r.writeLedger(ctx, tx, booking.Ledger); err != nil {
		return err
	}
	return mapSQLiteError(tx.Commit())
}

func (r *SQLiteBookingRepository) FindByID(ctx context.Context, id string) (*domain.Booking, error) {
	return scanSQLiteBooking(r.db.QueryRowContext(ctx, sqliteSelectBooking+` WHERE b.id = ?`, id))
}

func (r *SQLiteBookingRepository) FindByReference(ctx context.Context, reference string) (*domain.Booking, error) {
	return scanSQLiteBooking(r.db.QueryRowContext(ctx, sqliteSelectBooking+` WHERE b.reference = ?`, reference))
}

func (r *SQLiteBookingRepository) FindByOwner(ctx context.Context, ownerID string, filter OwnerFilter) ([]*domain.Booking, error) {
	rows, err := r.db.QueryContext(ctx, sqliteSelectBooking+` WHERE b.owner_id = ?
		AND (? = '' OR b.status = ?) AND (? = '' OR b.kind = ?)
		ORDER BY b.created_at DESC, b.id LIMIT ?`,
		ownerID, string(filter.Status), string(filter.Status), string(filter.Kind), string(filter.Kind),
		listLimit(filter.Limit))
	if err != nil {
		return nil, mapSQLiteError(err)
	}
	defer rows.Close()

	var out []*domain.Booking
	for rows.Next() {
		b, err := scanSQLiteBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, mapSQLiteError(rows.Err())
}

func (r *SQLiteBookingRepository) Update(ctx context.Context, booking *domain.Booking) error {
	_, err := r.Mutate(ctx, booking.ID, func(current *domain.Booking) error {
		*current = *booking.Clone()
		return nil
	})
	return err
}

func (r *SQLiteBookingRepository) Mutate(ctx context.Context, id string, fn MutateFunc) (*domain.Booking, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, mapSQLiteError(err)
	}
	defer tx.Rollback()

	stored, err := scanSQLiteBooking(tx.QueryRowContext(ctx, sqliteSelectBooking+` WHERE b.id = ?`, id))
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
	if err := tx.Commit(); err != nil {
		return nil, mapSQLiteError(err)
	}
	return next, nil
}

func (r *SQLiteBookingRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]string, error) {
	return r.listIDs(ctx, `SELECT id FROM bookings WHERE status = 'pending' AND expires_at < ?
		ORDER BY expires_at LIMIT ?`, now.UnixNano(), listLimit(limit))
}

func (r *SQLiteBookingRepository) ListAwaitingRefund(ctx context.Context, limit int) ([]string, error) {
	return r.listIDs(ctx, `SELECT b.id FROM bookings b JOIN payment_ledger l ON l.booking_id = b.id
		WHERE b.status = 'cancelled' AND MIN(b.total - b.cancellation_fee, b.paid_amount) > b.refunded_amount
		ORDER BY b.updated_at LIMIT ?`, listLimit(limit))
}

func (r *SQLiteBookingRepository) listIDs(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapSQLiteError(err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, mapSQLiteError(err)
		}
		ids = append(ids, id)
	}
	return ids, mapSQLiteError(rows.Err())
}

func (r *SQLiteBookingRepository) write(ctx context.Context, q sqlQuerier, b *domain.Booking) error {
	rec, err := toRecord(b)
	if err != nil {
		return err
	}
	res, err := q.ExecContext(ctx, `UPDATE bookings SET status=?, details=?, currency=?, total=?, paid_amount=?,
		refunded_amount=?, cancellation_fee=?, payment_status=?, cancellation_reason=?, updated_at=?,
		confirmed_at=?, cancelled_at=?, completed_at=?, expires_at=?
		WHERE id=?`,
		rec.Status, string(rec.Details), rec.Currency, rec.Total, rec.PaidAmount,
		rec.RefundedAmount, rec.CancellationFee, rec.PaymentStatus, rec.CancellationReason, unixNano(rec.UpdatedAt),
		nullUnixNano(rec.ConfirmedAt), nullUnixNano(rec.CancelledAt), nullUnixNano(rec.CompletedAt),
		nullUnixNano(rec.ExpiresAt), rec.ID)
	if err != nil {
		return mapSQLiteError(err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.ErrNotFound
	}
	return r.writeLedger(ctx, q, b.Ledger)
}

func (r *SQLiteBookingRepository) writeLedger(ctx context.Context, q sqlQuerier, l *domain.LedgerEntry) error {
	if l == nil {
		return nil
	}
	rec, err := toLedgerRecord(l)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `INSERT INTO payment_ledger (booking_id, provider_reference, currency, amount_captured,
		amount_refunded, status, refund_references, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (booking_id) DO UPDATE SET amount_refunded = excluded.amount_refunded,
		status = excluded.status, refund_references = excluded.refund_references, updated_at = excluded.updated_at`,
		rec.BookingID, rec.ProviderReference, rec.Currency, rec.AmountCaptured,
		rec.AmountRefunded, rec.Status, string(rec.RefundReferences), unixNano(rec.CreatedAt), unixNano(rec.UpdatedAt))
	return mapSQLiteError(err)
}

func scanSQLiteBooking(row rowScanner) (*domain.Booking, error) {
	var (
		rec                                          bookingRecord
		details                                      string
		createdAt, updatedAt                         int64
		confirmedAt, cancelledAt, completedAt, expAt sql.NullInt64

		ledgerID, providerRef, ledgerCurrency, ledgerStatus, refundRefs sql.NullString
		captured, refunded, ledgerCreated, ledgerUpdated                sql.NullInt64
	)
	if err := row.Scan(&rec.ID, &rec.Reference, &rec.OwnerID, &rec.Kind, &rec.Status, &details, &rec.Currency,
		&rec.Total, &rec.PaidAmount, &rec.RefundedAmount, &rec.CancellationFee, &rec.PaymentStatus,
		&rec.CancellationReason, &createdAt, &updatedAt, &confirmedAt, &cancelledAt, &completedAt, &expAt,
		&ledgerID, &providerRef, &ledgerCurrency, &captured, &refunded, &ledgerStatus,
		&refundRefs, &ledgerCreated, &ledgerUpdated); err != nil {
		return nil, mapSQLiteError(err)
	}
	rec.Details = []byte(details)
	rec.CreatedAt = fromUnixNano(createdAt)
	rec.UpdatedAt = fromUnixNano(updatedAt)
	rec.ConfirmedAt = fromNullUnixNano(confirmedAt)
	rec.CancelledAt = fromNullUnixNano(cancelledAt)
	rec.CompletedAt = fromNullUnixNano(completedAt)
	rec.ExpiresAt = fromNullUnixNano(expAt)

	b, err := rec.toDomain()
	if err != nil {
		return nil, err
	}
	if ledgerID.Valid {
		l, err := ledgerRecord{
			BookingID:         ledgerID.String,
			ProviderReference: providerRef.String,
			Currency:          ledgerCurrency.String,
			AmountCaptured:    captured.Int64,
			AmountRefunded:    refunded.Int64,
			Status:            ledgerStatus.String,
			RefundReferences:  []byte(refundRefs.String),
			CreatedAt:         fromUnixNano(ledgerCreated.Int64),
			UpdatedAt:         fromUnixNano(ledgerUpdated.Int64),
		}.toDomain()
		if err != nil {
			return nil, err
		}
		b.Ledger = l
	}
	return b, nil
}

func mapSQLiteError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	var sqErr sqlite3.Error
	if errors.As(err, &sqErr) {
		switch {
		case sqErr.ExtendedCode == sqlite3.ErrConstraintUnique && strings.Contains(sqErr.Error(), "bookings.reference"):
			return fmt.Errorf("%w: %v", domain.ErrReferenceConflict, sqErr)
		case sqErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey || sqErr.ExtendedCode == sqlite3.ErrConstraintUnique:
			return fmt.Errorf("%w: %v", ErrDuplicateID, sqErr)
		case sqErr.Code == sqlite3.ErrBusy || sqErr.Code == sqlite3.ErrLocked:
			return fmt.Errorf("%w: %v", domain.ErrUnavailable, sqErr)
		}
	}
	return fmt.Errorf("%w: %v", domain.ErrUnavailable, err)
}

func unixNano(t time.Time) int64 {
	return t.UnixNano()
}

func nullUnixNano(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func fromUnixNano(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func fromNullUnixNano(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromUnixNano(n.Int64)
	return &t
}

var _ BookingRepository = (*SQLiteBookingRepository)(nil)

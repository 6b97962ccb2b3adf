package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repository interface {
	// CreateWithTransaction inserts the booking and, when txn is non-nil, its
	// ledger entry in one database transaction. A blocking booking is re-checked
	// for overlap under a per-spot lock. Returns ErrAlreadyProcessed when txn's
	// PaymentRef is already recorded and ErrConflict when the dates are taken.
	CreateWithTransaction(ctx context.Context, b *Booking, txn *Transaction) error
	GetByID(ctx context.Context, id string) (*Booking, error)
	GetByPaymentRef(ctx context.Context, ref string) (*Booking, error)
	GetTransaction(ctx context.Context, bookingID string) (*Transaction, error)
	List(ctx context.Context, filter Filter) ([]*Booking, int, error)
	ListOverlapping(ctx context.Context, spotID string, start, end time.Time, statuses []Status) ([]*Booking, error)
	// ConfirmWithTransaction confirms a pending booking and inserts its ledger
	// entry in one database transaction. Returns ErrAlreadyProcessed when txn's
	// PaymentRef is already recorded, ErrStatusChanged when the booking is no
	// longer pending and ErrConflict when its dates are taken.
	ConfirmWithTransaction(ctx context.Context, id string, txn *Transaction) (*Booking, error)
	// UpdateStatus moves a booking from one status to another only if it is
	// still in from, and mirrors the change onto its ledger entry.
	UpdateStatus(ctx context.Context, id string, from, to Status) (*Booking, error)
}

var bookingColumns = []string{
	"b.id", "b.spot_id", "b.renter_id", "b.start_date", "b.end_date",
	"b.guests", "b.cost", "b.status", "b.created_at", "b.updated_at",
}

type pgxRepository struct {
	pool *pgxpool.Pool
}

func NewPgxRepository(pool *pgxpool.Pool) Repository {
	return &pgxRepository{pool: pool}
}

func psql() squirrel.StatementBuilderType {
	return squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
}

func (r *pgxRepository) CreateWithTransaction(ctx context.Context, b *Booking, txn *Transaction) error {
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if err := lockSpot(ctx, tx, b.SpotID); err != nil {
			return err
		}

		if txn != nil {
			if err := checkPaymentRef(ctx, tx, txn.PaymentRef); err != nil {
				return err
			}
		}

		if b.Status.IsBlocking() {
			overlap, err := hasOverlap(ctx, tx, b.SpotID, b.StartDate, b.EndDate, "")
			if err != nil {
				return err
			}
			if overlap {
				return ErrConflict
			}
		}

		query, args, err := psql().Insert("public.bookings").
			Columns("spot_id", "renter_id", "start_date", "end_date", "guests", "cost", "status").
			Values(b.SpotID, b.RenterID, b.StartDate, b.EndDate, b.Guests, b.Cost, b.Status).
			Suffix("RETURNING id, created_at, updated_at").
			ToSql()
		if err != nil {
			return fmt.Errorf("build create booking query failed: %w", err)
		}
		if err := tx.QueryRow(ctx, query, args...).Scan(&b.ID, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return err
		}

		if txn == nil {
			return nil
		}
		txn.BookingID = b.ID
		return insertTransaction(ctx, tx, txn)
	})
	if err != nil {
		return mapWriteError(err, "create booking")
	}
	return nil
}

func (r *pgxRepository) ConfirmWithTransaction(ctx context.Context, id string, txn *Transaction) (*Booking, error) {
	var confirmed *Booking
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var spotID string
		var start, end time.Time
		err := tx.QueryRow(ctx,
			`SELECT spot_id, start_date, end_date FROM public.bookings WHERE id = $1`, id,
		).Scan(&spotID, &start, &end)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("load booking failed: %w", err)
		}

		if err := lockSpot(ctx, tx, spotID); err != nil {
			return err
		}
		if err := checkPaymentRef(ctx, tx, txn.PaymentRef); err != nil {
			return err
		}
		overlap, err := hasOverlap(ctx, tx, spotID, start, end, id)
		if err != nil {
			return err
		}
		if overlap {
			return ErrConflict
		}

		query, args, err := psql().Update("public.bookings b").
			Set("status", StatusConfirmed).
			Set("updated_at", squirrel.Expr("now()")).
			Where(squirrel.Eq{"b.id": id, "b.status": StatusPending}).
			Suffix("RETURNING " + strings.Join(bookingColumns, ", ")).
			ToSql()
		if err != nil {
			return fmt.Errorf("build confirm booking query failed: %w", err)
		}
		confirmed, err = scanBooking(tx.QueryRow(ctx, query, args...))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrStatusChanged
			}
			return err
		}

		txn.BookingID = id
		return insertTransaction(ctx, tx, txn)
	})
	if err != nil {
		return nil, mapWriteError(err, "confirm booking")
	}
	return confirmed, nil
}

func (r *pgxRepository) GetByID(ctx context.Context, id string) (*Booking, error) {
	query, args, err := psql().Select(bookingColumns...).
		From("public.bookings b").
		Where(squirrel.Eq{"b.id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build get booking query failed: %w", err)
	}

	b, err := scanBooking(r.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get booking failed: %w", err)
	}
	return b, nil
}

func (r *pgxRepository) GetByPaymentRef(ctx context.Context, ref string) (*Booking, error) {
	query, args, err := psql().Select(bookingColumns...).
		From("public.bookings b").
		Join("public.transactions t ON t.booking_id = b.id").
		Where(squirrel.Eq{"t.payment_ref": ref}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build get booking by payment ref query failed: %w", err)
	}

	b, err := scanBooking(r.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get booking by payment ref failed: %w", err)
	}
	return b, nil
}

func (r *pgxRepository) GetTransaction(ctx context.Context, bookingID string) (*Transaction, error) {
	// The newest entry wins; at most one is not void.
	const query = `
		SELECT id, booking_id, amount, currency, status, COALESCE(payment_ref, ''), created_at, updated_at
		FROM public.transactions
		WHERE booking_id = $1
		ORDER BY (status <> 'void') DESC, created_at DESC
		LIMIT 1
	`
	var t Transaction
	err := r.pool.QueryRow(ctx, query, bookingID).Scan(
		&t.ID, &t.BookingID, &t.Amount, &t.Currency, &t.Status, &t.PaymentRef, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTxnNotFound
		}
		return nil, fmt.Errorf("get transaction failed: %w", err)
	}
	return &t, nil
}

func (r *pgxRepository) List(ctx context.Context, filter Filter) ([]*Booking, int, error) {
	query := psql().Select(append(bookingColumns, "count(*) OVER() as total_count")...).
		From("public.bookings b")

	if filter.OwnerID != "" {
		query = query.Join("public.spots s ON s.id = b.spot_id").
			Where(squirrel.Eq{"s.owner_id": filter.OwnerID})
	}
	if filter.RenterID != "" {
		query = query.Where(squirrel.Eq{"b.renter_id": filter.RenterID})
	}
	if filter.SpotID != "" {
		query = query.Where(squirrel.Eq{"b.spot_id": filter.SpotID})
	}
	if filter.Status != "" {
		query = query.Where(squirrel.Eq{"b.status": filter.Status})
	}
	// Intersection with [From, To)
	if filter.From != nil {
		query = query.Where(squirrel.Gt{"b.end_date": *filter.From})
	}
	if filter.To != nil {
		query = query.Where(squirrel.Lt{"b.start_date": *filter.To})
	}
	if filter.EndBefore != nil {
		query = query.Where(squirrel.Lt{"b.end_date": *filter.EndBefore})
	}
	if filter.CreatedBefore != nil {
		query = query.Where(squirrel.Lt{"b.created_at": *filter.CreatedBefore})
	}

	orderDir := "DESC"
	if filter.SortOrder == "ASC" {
		orderDir = "ASC"
	}
	query = query.OrderBy("b.start_date "+orderDir, "b.created_at "+orderDir, "b.id")

	// Pagination
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize < 1 {
		filter.PageSize = 20
	}
	offset := (filter.Page-1)*filter.PageSize + filter.Offset
	query = query.Limit(uint64(filter.PageSize)).Offset(uint64(offset))

	sql, args, err := query.ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build list bookings query failed: %w", err)
	}

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list bookings failed: %w", err)
	}
	defer rows.Close()

	var bookings []*Booking
	var total int

	for rows.Next() {
		b, err := scanBooking(rows, &total)
		if err != nil {
			return nil, 0, fmt.Errorf("scan booking failed: %w", err)
		}
		bookings = append(bookings, b)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list bookings failed: %w", err)
	}

	return bookings, total, nil
}

func (r *pgxRepository) ListOverlapping(ctx context.Context, spotID string, start, end time.Time, statuses []Status) ([]*Booking, error) {
	query := psql().Select(bookingColumns...).
		From("public.bookings b").
		Where(squirrel.Eq{"b.spot_id": spotID}).
		Where(squirrel.Lt{"b.start_date": end}).
		Where(squirrel.Gt{"b.end_date": start}).
		OrderBy("b.start_date")
	if len(statuses) > 0 {
		query = query.Where(squirrel.Eq{"b.status": statusStrings(statuses)})
	}

	sql, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list overlapping query failed: %w", err)
	}

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list overlapping bookings failed: %w", err)
	}
	defer rows.Close()

	var bookings []*Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("scan booking failed: %w", err)
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

func (r *pgxRepository) UpdateStatus(ctx context.Context, id string, from, to Status) (*Booking, error) {
	var updated *Booking
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var spotID string
		var start, end time.Time
		err := tx.QueryRow(ctx,
			`SELECT spot_id, start_date, end_date FROM public.bookings WHERE id = $1`, id,
		).Scan(&spotID, &start, &end)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("load booking failed: %w", err)
		}

		if to.IsBlocking() && !from.IsBlocking() {
			if err := lockSpot(ctx, tx, spotID); err != nil {
				return err
			}
			overlap, err := hasOverlap(ctx, tx, spotID, start, end, id)
			if err != nil {
				return err
			}
			if overlap {
				return ErrConflict
			}
		}

		query, args, err := psql().Update("public.bookings b").
			Set("status", to).
			Set("updated_at", squirrel.Expr("now()")).
			Where(squirrel.Eq{"b.id": id, "b.status": from}).
			Suffix("RETURNING " + strings.Join(bookingColumns, ", ")).
			ToSql()
		if err != nil {
			return fmt.Errorf("build update status query failed: %w", err)
		}
		updated, err = scanBooking(tx.QueryRow(ctx, query, args...))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrStatusChanged
			}
			return err
		}

		_, err = tx.Exec(ctx, `
			UPDATE public.transactions
			SET status = $2, updated_at = now()
			WHERE booking_id = $1 AND status <> 'void'
		`, id, TransactionStatusFor(to))
		if err != nil {
			return fmt.Errorf("update transaction status failed: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, mapWriteError(err, "update booking status")
	}
	return updated, nil
}

// checkPaymentRef reports ErrAlreadyProcessed when ref is already on the ledger.
func checkPaymentRef(ctx context.Context, tx pgx.Tx, ref string) error {
	if ref == "" {
		return nil
	}
	var exists bool
	err := tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM public.transactions WHERE payment_ref = $1)`, ref,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check payment ref failed: %w", err)
	}
	if exists {
		return ErrAlreadyProcessed
	}
	return nil
}

func insertTransaction(ctx context.Context, tx pgx.Tx, txn *Transaction) error {
	var ref *string
	if txn.PaymentRef != "" {
		ref = &txn.PaymentRef
	}
	query, args, err := psql().Insert("public.transactions").
		Columns("booking_id", "amount", "currency", "status", "payment_ref").
		Values(txn.BookingID, txn.Amount, txn.Currency, txn.Status, ref).
		Suffix("RETURNING id, created_at, updated_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("build create transaction query failed: %w", err)
	}
	return tx.QueryRow(ctx, query, args...).Scan(&txn.ID, &txn.CreatedAt, &txn.UpdatedAt)
}

// lockSpot serialises writers of one spot until the transaction ends.
func lockSpot(ctx context.Context, tx pgx.Tx, spotID string) error {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1::text, 0))`, spotID); err != nil {
		return fmt.Errorf("lock spot failed: %w", err)
	}
	return nil
}

func hasOverlap(ctx context.Context, tx pgx.Tx, spotID string, start, end time.Time, excludeID string) (bool, error) {
	// Half-open ranges: (NewStart < ExistingEnd) AND (NewEnd > ExistingStart)
	sub := psql().Select("1").
		From("public.bookings").
		Where(squirrel.Eq{"spot_id": spotID}).
		Where(squirrel.Eq{"status": statusStrings(BlockingStatuses)}).
		Where(squirrel.Lt{"start_date": end}).
		Where(squirrel.Gt{"end_date": start})
	if excludeID != "" {
		sub = sub.Where(squirrel.NotEq{"id": excludeID})
	}

	sql, args, err := sub.ToSql()
	if err != nil {
		return false, fmt.Errorf("build check overlap query failed: %w", err)
	}

	var exists bool
	if err := tx.QueryRow(ctx, "SELECT EXISTS ("+sql+")", args...).Scan(&exists); err != nil {
		return false, fmt.Errorf("check overlap failed: %w", err)
	}
	return exists, nil
}

// mapWriteError turns constraint violations into domain errors.
func mapWriteError(err error, op string) error {
	switch {
	case errors.Is(err, ErrAlreadyProcessed),
		errors.Is(err, ErrConflict),
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrStatusChanged):
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgerrcode.UniqueViolation:
			if pgErr.ConstraintName == "transactions_payment_ref_key" {
				return ErrAlreadyProcessed
			}
		case pgerrcode.ExclusionViolation:
			return ErrConflict
		case pgerrcode.ForeignKeyViolation:
			switch pgErr.ConstraintName {
			case "bookings_spot_id_fkey":
				return ErrSpotNotFound
			case "bookings_renter_id_fkey":
				return ErrRenterNotFound
			}
		}
	}
	return fmt.Errorf("%s failed: %w", op, err)
}

func scanBooking(row pgx.Row, extra ...any) (*Booking, error) {
	var b Booking
	dest := append([]any{
		&b.ID, &b.SpotID, &b.RenterID, &b.StartDate, &b.EndDate,
		&b.Guests, &b.Cost, &b.Status, &b.CreatedAt, &b.UpdatedAt,
	}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	return &b, nil
}

func statusStrings(statuses []Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

package spot

import (
	"context"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repository interface {
	Create(ctx context.Context, s *Spot) error
	GetByID(ctx context.Context, id string) (*Spot, error)
	List(ctx context.Context, filter Filter) ([]*Spot, int, error)
}

type pgxRepository struct {
	pool *pgxpool.Pool
}

func NewPgxRepository(pool *pgxpool.Pool) Repository {
	return &pgxRepository{pool: pool}
}

func (r *pgxRepository) Create(ctx context.Context, s *Spot) error {
	const query = `
		INSERT INTO public.spots (owner_id, name, description, price_per_night, capacity)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at
	`
	err := r.pool.QueryRow(ctx, query, s.OwnerID, s.Name, s.Description, s.PricePerNight, s.Capacity).
		Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation {
			return ErrOwnerNotFound
		}
		return fmt.Errorf("create spot failed: %w", err)
	}
	return nil
}

func (r *pgxRepository) GetByID(ctx context.Context, id string) (*Spot, error) {
	const query = `
		SELECT id, owner_id, name, description, price_per_night, capacity, created_at, updated_at
		FROM public.spots
		WHERE id = $1
	`
	var s Spot
	if err := r.pool.QueryRow(ctx, query, id).Scan(
		&s.ID, &s.OwnerID, &s.Name, &s.Description, &s.PricePerNight, &s.Capacity, &s.CreatedAt, &s.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get spot failed: %w", err)
	}
	return &s, nil
}

func (r *pgxRepository) List(ctx context.Context, filter Filter) ([]*Spot, int, error) {
	psql := squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
	query := psql.Select(
		"id", "owner_id", "name", "description", "price_per_night", "capacity", "created_at", "updated_at",
		"count(*) OVER() as total_count",
	).From("public.spots")

	if filter.OwnerID != "" {
		query = query.Where(squirrel.Eq{"owner_id": filter.OwnerID})
	}

	orderDir := "DESC"
	if filter.SortOrder == "ASC" {
		orderDir = "ASC"
	}
	query = query.OrderBy("created_at " + orderDir)

	// Pagination
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize < 1 {
		filter.PageSize = 20
	}
	offset := (filter.Page - 1) * filter.PageSize
	query = query.Limit(uint64(filter.PageSize)).Offset(uint64(offset))

	sql, args, err := query.ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build list spots query failed: %w", err)
	}

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list spots failed: %w", err)
	}
	defer rows.Close()

	var result []*Spot
	var total int

	for rows.Next() {
		var s Spot
		if err := rows.Scan(
			&s.ID, &s.OwnerID, &s.Name, &s.Description, &s.PricePerNight, &s.Capacity, &s.CreatedAt, &s.UpdatedAt, &total,
		); err != nil {
			return nil, 0, fmt.Errorf("scan spot failed: %w", err)
		}
		result = append(result, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list spots failed: %w", err)
	}

	return result, total, nil
}

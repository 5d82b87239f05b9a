package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/snaplink/snaplink/internal/model"
)

var (
	ErrNotFound        = errors.New("link not found")
	ErrKeyConflict     = errors.New("code or alias already exists")
	ErrVersionNotFound = errors.New("link version not found")
)

const linkColumns = `id, code, alias, destination_url, is_protected,
	password_auto_generated, password_hash, expires_at, max_clicks,
	click_count, unique_visitor_count, current_version, created_at, updated_at`

// LinkRepository handles database operations for links. The store is
// the authoritative record; every cache region is advisory.
type LinkRepository struct {
	db *pgxpool.Pool
}

// NewLinkRepository creates a new link repository
func NewLinkRepository(db *pgxpool.Pool) *LinkRepository {
	return &LinkRepository{db: db}
}

// Pool exposes the underlying pool for transactional collaborators.
func (r *LinkRepository) Pool() *pgxpool.Pool { return r.db }

func scanLink(row pgx.Row) (*model.ShortLink, error) {
	var link model.ShortLink
	err := row.Scan(&link.ID, &link.Code, &link.Alias, &link.DestinationURL,
		&link.IsProtected, &link.PasswordAutoGen, &link.PasswordHash,
		&link.ExpiresAt, &link.MaxClicks, &link.ClickCount,
		&link.UniqueVisitorCount, &link.CurrentVersion,
		&link.CreatedAt, &link.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &link, nil
}

// CreateWithInitialVersion inserts the link together with version 1 and
// points current_version at it, all in one transaction. A link is never
// visible without its first version.
func (r *LinkRepository) CreateWithInitialVersion(ctx context.Context, link *model.ShortLink) error {
	ctx, span := tracer.Start(ctx, "db.insert",
		trace.WithAttributes(
			attribute.String("db.system", "postgresql"),
			attribute.String("db.operation", "INSERT"),
			attribute.String("db.sql.table", "links"),
			attribute.String("code", link.Code),
		),
	)
	defer span.End()

	tx, err := r.db.Begin(ctx)
	if err != nil {
		span.RecordError(err)
		return err
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, `
		INSERT INTO links (id, code, alias, destination_url, is_protected,
			password_auto_generated, password_hash, expires_at, max_clicks,
			current_version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 1)
		RETURNING created_at, updated_at`,
		link.ID, link.Code, link.Alias, link.DestinationURL, link.IsProtected,
		link.PasswordAutoGen, link.PasswordHash, link.ExpiresAt, link.MaxClicks,
	).Scan(&link.CreatedAt, &link.UpdatedAt)
	if err != nil {
		span.RecordError(err)
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrKeyConflict
		}
		return err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO link_versions (link_id, version_number, destination_url,
			alias, is_protected, password_auto_generated, password_hash,
			expires_at, max_clicks)
		VALUES ($1, 1, $2, $3, $4, $5, $6, $7, $8)`,
		link.ID, link.DestinationURL, link.Alias, link.IsProtected,
		link.PasswordAutoGen, link.PasswordHash, link.ExpiresAt, link.MaxClicks,
	)
	if err != nil {
		span.RecordError(err)
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		span.RecordError(err)
		return err
	}
	link.CurrentVersion = 1
	return nil
}

// GetByCode retrieves a link by its short code, case-insensitively.
func (r *LinkRepository) GetByCode(ctx context.Context, code string) (*model.ShortLink, error) {
	ctx, span := tracer.Start(ctx, "db.select",
		trace.WithAttributes(
			attribute.String("db.system", "postgresql"),
			attribute.String("db.operation", "SELECT"),
			attribute.String("db.sql.table", "links"),
			attribute.String("code", code),
		),
	)
	defer span.End()

	row := r.db.QueryRow(ctx,
		`SELECT `+linkColumns+` FROM links WHERE LOWER(code) = LOWER($1)`, code)
	link, err := scanLink(row)
	if err != nil && !errors.Is(err, ErrNotFound) {
		span.RecordError(err)
	}
	return link, err
}

// GetByAlias retrieves a link by its alias, case-insensitively.
func (r *LinkRepository) GetByAlias(ctx context.Context, alias string) (*model.ShortLink, error) {
	ctx, span := tracer.Start(ctx, "db.select",
		trace.WithAttributes(
			attribute.String("db.system", "postgresql"),
			attribute.String("db.operation", "SELECT"),
			attribute.String("db.sql.table", "links"),
			attribute.String("alias", alias),
		),
	)
	defer span.End()

	row := r.db.QueryRow(ctx,
		`SELECT `+linkColumns+` FROM links WHERE LOWER(alias) = LOWER($1)`, alias)
	link, err := scanLink(row)
	if err != nil && !errors.Is(err, ErrNotFound) {
		span.RecordError(err)
	}
	return link, err
}

// GetByCodeOrAlias resolves user input that may be either key.
func (r *LinkRepository) GetByCodeOrAlias(ctx context.Context, key string) (*model.ShortLink, error) {
	link, err := r.GetByCode(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return r.GetByAlias(ctx, key)
	}
	return link, err
}

// GetByDestination returns the earliest link pointing at the given
// normalized destination URL, used for create-time deduplication.
func (r *LinkRepository) GetByDestination(ctx context.Context, destination string) (*model.ShortLink, error) {
	ctx, span := tracer.Start(ctx, "db.select",
		trace.WithAttributes(
			attribute.String("db.system", "postgresql"),
			attribute.String("db.operation", "SELECT"),
			attribute.String("db.sql.table", "links"),
		),
	)
	defer span.End()

	row := r.db.QueryRow(ctx,
		`SELECT `+linkColumns+` FROM links
		 WHERE LOWER(destination_url) = LOWER($1)
		 ORDER BY created_at ASC LIMIT 1`, destination)
	link, err := scanLink(row)
	if err != nil && !errors.Is(err, ErrNotFound) {
		span.RecordError(err)
	}
	return link, err
}

// ExistsCode reports whether a code is taken, case-insensitively.
func (r *LinkRepository) ExistsCode(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM links WHERE LOWER(code) = LOWER($1))`, code).Scan(&exists)
	return exists, err
}

// ExistsAlias reports whether an alias is taken, case-insensitively.
func (r *LinkRepository) ExistsAlias(ctx context.Context, alias string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM links WHERE LOWER(alias) = LOWER($1))`, alias).Scan(&exists)
	return exists, err
}

// Count returns the number of links, used to size the existence guard
// at startup.
func (r *LinkRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM links`).Scan(&n)
	return n, err
}

// ListKeys streams every code and alias, used to rebuild the existence
// guard at startup.
func (r *LinkRepository) ListKeys(ctx context.Context) ([]string, error) {
	rows, err := r.db.Query(ctx, `SELECT code, alias FROM links`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var code string
		var alias *string
		if err := rows.Scan(&code, &alias); err != nil {
			return nil, err
		}
		keys = append(keys, code)
		if alias != nil {
			keys = append(keys, *alias)
		}
	}
	return keys, rows.Err()
}

// Delete removes a link by code. Versions cascade.
func (r *LinkRepository) Delete(ctx context.Context, code string) error {
	ctx, span := tracer.Start(ctx, "db.delete",
		trace.WithAttributes(
			attribute.String("db.system", "postgresql"),
			attribute.String("db.operation", "DELETE"),
			attribute.String("db.sql.table", "links"),
			attribute.String("code", code),
		),
	)
	defer span.End()

	result, err := r.db.Exec(ctx, `DELETE FROM links WHERE LOWER(code) = LOWER($1)`, code)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// IncrementClickCount bumps the total click counter.
func (r *LinkRepository) IncrementClickCount(ctx context.Context, code string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE links SET click_count = click_count + 1, updated_at = now()
		 WHERE LOWER(code) = LOWER($1)`, code)
	return err
}

// IncrementUniqueVisitors bumps the monotonic unique-visitor counter.
func (r *LinkRepository) IncrementUniqueVisitors(ctx context.Context, code string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE links SET unique_visitor_count = unique_visitor_count + 1, updated_at = now()
		 WHERE LOWER(code) = LOWER($1)`, code)
	return err
}

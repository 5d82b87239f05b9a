package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/snaplink/snaplink/internal/model"
)

const versionColumns = `id, link_id, version_number, destination_url, alias,
	is_protected, password_auto_generated, password_hash, expires_at,
	max_clicks, is_rollback, rollback_from_version, created_at`

// VersionRepository handles the append-only version history of links.
type VersionRepository struct {
	db *pgxpool.Pool
}

// NewVersionRepository creates a new version repository
func NewVersionRepository(db *pgxpool.Pool) *VersionRepository {
	return &VersionRepository{db: db}
}

func scanVersion(row pgx.Row) (*model.LinkVersion, error) {
	var v model.LinkVersion
	err := row.Scan(&v.ID, &v.LinkID, &v.VersionNumber, &v.DestinationURL,
		&v.Alias, &v.IsProtected, &v.PasswordAutoGen, &v.PasswordHash,
		&v.ExpiresAt, &v.MaxClicks, &v.IsRollback, &v.RollbackFrom, &v.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrVersionNotFound
		}
		return nil, err
	}
	return &v, nil
}

// ListByLink returns the full history, newest first.
func (r *VersionRepository) ListByLink(ctx context.Context, linkID int64) ([]*model.LinkVersion, error) {
	ctx, span := tracer.Start(ctx, "db.select",
		trace.WithAttributes(
			attribute.String("db.system", "postgresql"),
			attribute.String("db.operation", "SELECT"),
			attribute.String("db.sql.table", "link_versions"),
			attribute.Int64("link_id", linkID),
		),
	)
	defer span.End()

	rows, err := r.db.Query(ctx,
		`SELECT `+versionColumns+` FROM link_versions
		 WHERE link_id = $1 ORDER BY version_number DESC`, linkID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	defer rows.Close()

	var versions []*model.LinkVersion
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// Get returns one historical version of a link.
func (r *VersionRepository) Get(ctx context.Context, linkID int64, versionNumber int) (*model.LinkVersion, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+versionColumns+` FROM link_versions
		 WHERE link_id = $1 AND version_number = $2`, linkID, versionNumber)
	return scanVersion(row)
}

// LatestVersionNumber returns the highest recorded version number, or 0
// when no version exists yet.
func (r *VersionRepository) LatestVersionNumber(ctx context.Context, linkID int64) (int, error) {
	var n int
	err := r.db.QueryRow(ctx,
		`SELECT COALESCE(MAX(version_number), 0) FROM link_versions WHERE link_id = $1`,
		linkID).Scan(&n)
	return n, err
}

// Delete removes a single historical version. The caller is responsible
// for refusing to delete the current version.
func (r *VersionRepository) Delete(ctx context.Context, linkID int64, versionNumber int) error {
	ctx, span := tracer.Start(ctx, "db.delete",
		trace.WithAttributes(
			attribute.String("db.system", "postgresql"),
			attribute.String("db.operation", "DELETE"),
			attribute.String("db.sql.table", "link_versions"),
			attribute.Int64("link_id", linkID),
			attribute.Int("version_number", versionNumber),
		),
	)
	defer span.End()

	result, err := r.db.Exec(ctx,
		`DELETE FROM link_versions WHERE link_id = $1 AND version_number = $2`,
		linkID, versionNumber)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrVersionNotFound
	}
	return nil
}

// ApplyUpdate persists an accepted link update atomically: an optional
// backup snapshot of the pre-update state, the mutated link row, the
// post-update version, and the current_version pointer all commit
// together, so the entity can never drift from its version log.
func (r *VersionRepository) ApplyUpdate(ctx context.Context, link *model.ShortLink, backup, next *model.LinkVersion) error {
	ctx, span := tracer.Start(ctx, "db.tx",
		trace.WithAttributes(
			attribute.String("db.system", "postgresql"),
			attribute.String("db.operation", "UPDATE"),
			attribute.String("db.sql.table", "links"),
			attribute.String("code", link.Code),
			attribute.Int("version_number", next.VersionNumber),
		),
	)
	defer span.End()

	tx, err := r.db.Begin(ctx)
	if err != nil {
		span.RecordError(err)
		return err
	}
	defer tx.Rollback(ctx)

	if backup != nil {
		if err := insertVersion(ctx, tx, backup); err != nil {
			span.RecordError(err)
			return err
		}
	}
	if err := insertVersion(ctx, tx, next); err != nil {
		span.RecordError(err)
		return err
	}

	result, err := tx.Exec(ctx, `
		UPDATE links SET destination_url = $2, alias = $3, is_protected = $4,
			password_auto_generated = $5, password_hash = $6, expires_at = $7,
			max_clicks = $8, current_version = $9, updated_at = now()
		WHERE id = $1`,
		link.ID, link.DestinationURL, link.Alias, link.IsProtected,
		link.PasswordAutoGen, link.PasswordHash, link.ExpiresAt,
		link.MaxClicks, next.VersionNumber)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		span.RecordError(err)
		return err
	}
	link.CurrentVersion = next.VersionNumber
	return nil
}

func insertVersion(ctx context.Context, tx pgx.Tx, v *model.LinkVersion) error {
	return tx.QueryRow(ctx, `
		INSERT INTO link_versions (link_id, version_number, destination_url,
			alias, is_protected, password_auto_generated, password_hash,
			expires_at, max_clicks, is_rollback, rollback_from_version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at`,
		v.LinkID, v.VersionNumber, v.DestinationURL, v.Alias, v.IsProtected,
		v.PasswordAutoGen, v.PasswordHash, v.ExpiresAt, v.MaxClicks,
		v.IsRollback, v.RollbackFrom,
	).Scan(&v.ID, &v.CreatedAt)
}

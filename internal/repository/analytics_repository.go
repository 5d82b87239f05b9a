package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/snaplink/snaplink/internal/model"
)

// AnalyticsRepository stores daily per-link click aggregates. Counter
// maps and the recent-access window are kept as jsonb columns.
type AnalyticsRepository struct {
	db *pgxpool.Pool
}

// NewAnalyticsRepository creates a new analytics repository
func NewAnalyticsRepository(db *pgxpool.Pool) *AnalyticsRepository {
	return &AnalyticsRepository{db: db}
}

// Apply runs a merge against the (code, date) aggregate under row-level
// locking. The row is created zeroed when missing, locked with
// SELECT ... FOR UPDATE, passed to merge, and written back in the same
// transaction. Concurrent merges for the same key serialize on the lock.
func (r *AnalyticsRepository) Apply(ctx context.Context, code string, date time.Time, merge func(*model.DailyAnalytics)) error {
	ctx, span := tracer.Start(ctx, "db.tx",
		trace.WithAttributes(
			attribute.String("db.system", "postgresql"),
			attribute.String("db.operation", "UPDATE"),
			attribute.String("db.sql.table", "daily_analytics"),
			attribute.String("code", code),
		),
	)
	defer span.End()

	tx, err := r.db.Begin(ctx)
	if err != nil {
		span.RecordError(err)
		return err
	}
	defer tx.Rollback(ctx)

	// Ensure the row exists so FOR UPDATE has something to lock; the
	// unique constraint makes the insert race-safe.
	_, err = tx.Exec(ctx, `
		INSERT INTO daily_analytics (code, access_date)
		VALUES ($1, $2)
		ON CONFLICT (code, access_date) DO NOTHING`, code, date)
	if err != nil {
		span.RecordError(err)
		return err
	}

	row := tx.QueryRow(ctx, analyticsSelect+`
		WHERE code = $1 AND access_date = $2
		FOR UPDATE`, code, date)
	a, err := scanAnalytics(row)
	if err != nil {
		span.RecordError(err)
		return err
	}

	merge(a)

	if err := saveAnalytics(ctx, tx, a); err != nil {
		span.RecordError(err)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

// ListByCode returns all daily aggregates for a link, newest first.
func (r *AnalyticsRepository) ListByCode(ctx context.Context, code string) ([]*model.DailyAnalytics, error) {
	ctx, span := tracer.Start(ctx, "db.select",
		trace.WithAttributes(
			attribute.String("db.system", "postgresql"),
			attribute.String("db.operation", "SELECT"),
			attribute.String("db.sql.table", "daily_analytics"),
			attribute.String("code", code),
		),
	)
	defer span.End()

	rows, err := r.db.Query(ctx, analyticsSelect+`
		WHERE code = $1 ORDER BY access_date DESC`, code)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	defer rows.Close()

	var result []*model.DailyAnalytics
	for rows.Next() {
		a, err := scanAnalytics(rows)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

// DeleteByCode drops all aggregates for a link, used on link deletion.
func (r *AnalyticsRepository) DeleteByCode(ctx context.Context, code string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM daily_analytics WHERE code = $1`, code)
	return err
}

const analyticsSelect = `
	SELECT id, code, access_date, total_visit_count,
		browser_visit_counts, device_visit_counts, os_visit_counts,
		browser_last_seen, device_last_seen,
		country, city, region, continent, latitude, longitude,
		referer, utm_source, utm_medium, utm_campaign, utm_term,
		is_bot, user_agent, recent_access_times,
		clicks_last_10_min, clicks_last_1_hour, last_access_time
	FROM daily_analytics`

func scanAnalytics(row pgx.Row) (*model.DailyAnalytics, error) {
	var (
		a                                 model.DailyAnalytics
		browserCounts, deviceCounts       []byte
		osCounts, browserSeen, deviceSeen []byte
		recentTimes                       []byte
		country, city, region, continent  *string
		referer, utmSource, utmMedium     *string
		utmCampaign, utmTerm, userAgent   *string
		lastAccess                        *time.Time
	)
	err := row.Scan(&a.ID, &a.Code, &a.AccessDate, &a.TotalVisitCount,
		&browserCounts, &deviceCounts, &osCounts, &browserSeen, &deviceSeen,
		&country, &city, &region, &continent, &a.Latitude, &a.Longitude,
		&referer, &utmSource, &utmMedium, &utmCampaign, &utmTerm,
		&a.IsBot, &userAgent, &recentTimes,
		&a.ClicksLast10Min, &a.ClicksLast1Hour, &lastAccess)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(browserCounts, &a.BrowserVisitCounts); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(deviceCounts, &a.DeviceVisitCounts); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(osCounts, &a.OSVisitCounts); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(browserSeen, &a.BrowserLastSeen); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(deviceSeen, &a.DeviceLastSeen); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(recentTimes, &a.RecentAccessTimes); err != nil {
		return nil, err
	}

	a.Country = deref(country)
	a.City = deref(city)
	a.Region = deref(region)
	a.Continent = deref(continent)
	a.Referer = deref(referer)
	a.UTMSource = deref(utmSource)
	a.UTMMedium = deref(utmMedium)
	a.UTMCampaign = deref(utmCampaign)
	a.UTMTerm = deref(utmTerm)
	a.UserAgent = deref(userAgent)
	if lastAccess != nil {
		a.LastAccessTime = *lastAccess
	}
	return &a, nil
}

func saveAnalytics(ctx context.Context, tx pgx.Tx, a *model.DailyAnalytics) error {
	browserCounts, err := json.Marshal(orEmptyMap(a.BrowserVisitCounts))
	if err != nil {
		return err
	}
	deviceCounts, err := json.Marshal(orEmptyMap(a.DeviceVisitCounts))
	if err != nil {
		return err
	}
	osCounts, err := json.Marshal(orEmptyMap(a.OSVisitCounts))
	if err != nil {
		return err
	}
	browserSeen, err := json.Marshal(orEmptyTimeMap(a.BrowserLastSeen))
	if err != nil {
		return err
	}
	deviceSeen, err := json.Marshal(orEmptyTimeMap(a.DeviceLastSeen))
	if err != nil {
		return err
	}
	recentTimes, err := json.Marshal(a.RecentAccessTimes)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		UPDATE daily_analytics SET total_visit_count = $3,
			browser_visit_counts = $4, device_visit_counts = $5,
			os_visit_counts = $6, browser_last_seen = $7, device_last_seen = $8,
			country = $9, city = $10, region = $11, continent = $12,
			latitude = $13, longitude = $14, referer = $15,
			utm_source = $16, utm_medium = $17, utm_campaign = $18,
			utm_term = $19, is_bot = $20, user_agent = $21,
			recent_access_times = $22, clicks_last_10_min = $23,
			clicks_last_1_hour = $24, last_access_time = $25
		WHERE code = $1 AND access_date = $2`,
		a.Code, a.AccessDate, a.TotalVisitCount,
		browserCounts, deviceCounts, osCounts, browserSeen, deviceSeen,
		a.Country, a.City, a.Region, a.Continent, a.Latitude, a.Longitude,
		a.Referer, a.UTMSource, a.UTMMedium, a.UTMCampaign, a.UTMTerm,
		a.IsBot, a.UserAgent, recentTimes,
		a.ClicksLast10Min, a.ClicksLast1Hour, a.LastAccessTime)
	return err
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func orEmptyMap(m map[string]int64) map[string]int64 {
	if m == nil {
		return map[string]int64{}
	}
	return m
}

func orEmptyTimeMap(m map[string]time.Time) map[string]time.Time {
	if m == nil {
		return map[string]time.Time{}
	}
	return m
}

// Package service implements link lifecycle and resolution on top of
// the authoritative store, with the existence guard and resolution
// cache in front and the analytics producer behind.
package service

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/snaplink/snaplink/internal/analytics"
	"github.com/snaplink/snaplink/internal/cache"
	"github.com/snaplink/snaplink/internal/config"
	"github.com/snaplink/snaplink/internal/guard"
	"github.com/snaplink/snaplink/internal/idgen"
	"github.com/snaplink/snaplink/internal/model"
	"github.com/snaplink/snaplink/internal/observability"
	"github.com/snaplink/snaplink/internal/repository"
)

var aliasPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// clickPublisher accepts click events without blocking.
type clickPublisher interface {
	Publish(event *model.ClickEvent)
}

// LinkService owns create, resolve, update and delete for short links,
// plus the version engine built on the append-only history.
type LinkService struct {
	links     *repository.LinkRepository
	versions  *repository.VersionRepository
	analytics *repository.AnalyticsRepository
	cache     *cache.ResolutionCache
	guard     *guard.ExistenceGuard
	ids       *idgen.Generator
	producer  clickPublisher
	cfg       config.AppConfig
	logger    *slog.Logger
	metrics   *observability.Metrics
	locks     *keyedLocks
	now       func() time.Time
}

func NewLinkService(
	links *repository.LinkRepository,
	versions *repository.VersionRepository,
	analyticsRepo *repository.AnalyticsRepository,
	resolution *cache.ResolutionCache,
	existence *guard.ExistenceGuard,
	ids *idgen.Generator,
	producer clickPublisher,
	cfg config.AppConfig,
	logger *slog.Logger,
	metrics *observability.Metrics,
) *LinkService {
	return &LinkService{
		links:     links,
		versions:  versions,
		analytics: analyticsRepo,
		cache:     resolution,
		guard:     existence,
		ids:       ids,
		producer:  producer,
		cfg:       cfg,
		logger:    logger,
		metrics:   metrics,
		locks:     newKeyedLocks(),
		now:       time.Now,
	}
}

// Create shortens a destination URL. Requests without custom options
// deduplicate onto the existing link for the same normalized
// destination. The returned string is the generated password, set only
// when auto-generation was requested; it is never stored or shown again.
func (s *LinkService) Create(ctx context.Context, req *model.CreateLinkRequest) (*model.ShortLink, string, error) {
	normalized, err := NormalizeURL(req.URL)
	if err != nil {
		return nil, "", err
	}
	if s.cfg.VerifyReachability && !CheckReachable(ctx, normalized) {
		return nil, "", ErrUnreachableURL
	}

	plain := req.Alias == "" && req.Password == "" && !req.AutoGeneratePassword &&
		req.ExpiresAt == "" && req.MaxClicks == nil
	if plain {
		if link, ok := s.findByDestination(ctx, normalized); ok {
			return link, "", nil
		}
	}

	var alias *string
	if req.Alias != "" {
		if err := s.validateAlias(req.Alias); err != nil {
			return nil, "", err
		}
		taken, err := s.keyTaken(ctx, req.Alias)
		if err != nil {
			return nil, "", err
		}
		if taken {
			return nil, "", ErrAliasTaken
		}
		a := req.Alias
		alias = &a
	}

	expiresAt, maxClicks, err := s.expiryPolicy(req.ExpiresAt, req.MaxClicks)
	if err != nil {
		return nil, "", err
	}

	var passwordHash *string
	generated := ""
	autoGen := false
	switch {
	case req.AutoGeneratePassword:
		generated, err = generatePassword()
		if err != nil {
			return nil, "", fmt.Errorf("generating password: %w", err)
		}
		hash, err := hashPassword(generated)
		if err != nil {
			return nil, "", fmt.Errorf("hashing password: %w", err)
		}
		passwordHash = &hash
		autoGen = true
	case req.Password != "":
		hash, err := hashPassword(req.Password)
		if err != nil {
			return nil, "", fmt.Errorf("hashing password: %w", err)
		}
		passwordHash = &hash
	}

	id, code, err := s.allocateCode(ctx)
	if err != nil {
		return nil, "", err
	}

	link := &model.ShortLink{
		ID:              id,
		Code:            code,
		Alias:           alias,
		DestinationURL:  normalized,
		IsProtected:     passwordHash != nil,
		PasswordAutoGen: autoGen,
		PasswordHash:    passwordHash,
		ExpiresAt:       expiresAt,
		MaxClicks:       maxClicks,
	}
	if err := s.links.CreateWithInitialVersion(ctx, link); err != nil {
		if errors.Is(err, repository.ErrKeyConflict) {
			return nil, "", ErrAliasTaken
		}
		return nil, "", err
	}

	s.guard.Add(code)
	if alias != nil {
		s.guard.Add(*alias)
	}
	if plain {
		s.cache.SetDedup(ctx, normalized, code)
	}
	s.cacheLink(ctx, link)
	if s.metrics != nil {
		s.metrics.LinksCreated.Inc()
	}
	return link, generated, nil
}

// Get returns the link for a code or alias.
func (s *LinkService) Get(ctx context.Context, key string) (*model.ShortLink, error) {
	return s.load(ctx, key)
}

// Resolve maps a code or alias to its destination and records the
// click. The redirect cache region serves unprotected, unlimited links
// without touching the store; click accounting then runs off the
// request path.
func (s *LinkService) Resolve(ctx context.Context, key, password, visitorID string, r *http.Request) (string, error) {
	if dest, ok := s.cache.GetRedirect(ctx, key); ok {
		s.countRedirect()
		go s.recordClickByKey(key, visitorID, r)
		return dest, nil
	}

	link, err := s.load(ctx, key)
	if err != nil {
		return "", err
	}

	now := s.now()
	if link.ExpiresAt != nil && now.After(*link.ExpiresAt) {
		s.removeDead(ctx, link)
		return "", ErrExpired
	}
	if link.MaxClicks != nil && link.ClickCount >= int64(*link.MaxClicks) {
		s.removeDead(ctx, link)
		return "", ErrExpired
	}

	if link.IsProtected {
		limit := int64(s.cfg.PasswordAttempts)
		if s.cache.Attempts(ctx, link.Code) >= limit {
			return "", ErrTooManyAttempts
		}
		if password == "" {
			return "", ErrPasswordRequired
		}
		if link.PasswordHash == nil || !verifyPassword(*link.PasswordHash, password) {
			if s.cache.IncrementAttempts(ctx, link.Code, s.cfg.AttemptWindow) >= limit {
				return "", ErrTooManyAttempts
			}
			return "", ErrWrongPassword
		}
	}

	if cacheableRedirect(link) {
		s.cache.SetRedirect(ctx, link)
	}
	s.countRedirect()
	s.recordClick(ctx, link, visitorID, r)
	return link.DestinationURL, nil
}

// Delete removes a link, its history, its analytics rows and every
// cache region keyed by it.
func (s *LinkService) Delete(ctx context.Context, key string) error {
	link, err := s.loadAuthoritative(ctx, key)
	if err != nil {
		return err
	}
	if err := s.links.Delete(ctx, link.Code); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	if err := s.analytics.DeleteByCode(ctx, link.Code); err != nil {
		s.logger.Warn("failed to remove analytics rows",
			slog.String("code", link.Code), slog.String("error", err.Error()))
	}
	s.cache.EvictLink(ctx, link)
	return nil
}

// ListAnalytics returns the daily aggregates for a link, newest first.
func (s *LinkService) ListAnalytics(ctx context.Context, key string) ([]*model.DailyAnalytics, error) {
	link, err := s.load(ctx, key)
	if err != nil {
		return nil, err
	}
	return s.analytics.ListByCode(ctx, link.Code)
}

func (s *LinkService) findByDestination(ctx context.Context, normalized string) (*model.ShortLink, bool) {
	if code, ok := s.cache.GetDedup(ctx, normalized); ok {
		if link, ok := s.cache.GetObject(ctx, code); ok {
			return link, true
		}
		link, err := s.links.GetByCode(ctx, code)
		if err == nil {
			s.cacheLink(ctx, link)
			return link, true
		}
		// Stale fingerprint; fall through to the store.
	}
	link, err := s.links.GetByDestination(ctx, normalized)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			s.logger.Warn("destination lookup failed", slog.String("error", err.Error()))
		}
		return nil, false
	}
	s.cache.SetDedup(ctx, normalized, link.Code)
	s.cacheLink(ctx, link)
	return link, true
}

// allocateCode draws snowflake-derived codes until one clears the
// guard, retrying a bounded number of confirmed collisions.
func (s *LinkService) allocateCode(ctx context.Context) (int64, string, error) {
	for attempt := 0; attempt <= s.cfg.CodeRetries; attempt++ {
		id, err := s.ids.NextID()
		if err != nil {
			return 0, "", fmt.Errorf("generating id: %w", err)
		}
		code := idgen.EncodeBase62(uint64(id))
		taken, err := s.keyTaken(ctx, code)
		if err != nil {
			return 0, "", err
		}
		if !taken {
			return id, code, nil
		}
		s.logger.Warn("generated code collided, retrying",
			slog.String("code", code), slog.Int("attempt", attempt+1))
	}
	return 0, "", ErrCodeExhausted
}

// keyTaken answers whether a key is in use as a code or alias. A
// negative guard answer is definitive; a positive one is confirmed
// against the store.
func (s *LinkService) keyTaken(ctx context.Context, key string) (bool, error) {
	if !s.guard.MightContain(key) {
		return false, nil
	}
	exists, err := s.links.ExistsCode(ctx, key)
	if err != nil {
		return false, err
	}
	if exists {
		return true, nil
	}
	return s.links.ExistsAlias(ctx, key)
}

func (s *LinkService) validateAlias(alias string) error {
	if len(alias) < s.cfg.MinAliasLen || len(alias) > s.cfg.MaxAliasLen {
		return ErrInvalidAlias
	}
	if !aliasPattern.MatchString(alias) {
		return ErrInvalidAlias
	}
	return nil
}

func (s *LinkService) expiryPolicy(expiresAt string, maxClicks *int) (*time.Time, *int, error) {
	if expiresAt != "" && maxClicks != nil {
		return nil, nil, ErrAmbiguousExpiry
	}
	if maxClicks != nil {
		if *maxClicks <= 0 {
			return nil, nil, ErrInvalidClicks
		}
		return nil, maxClicks, nil
	}
	if expiresAt == "" {
		return nil, nil, nil
	}
	t, err := time.Parse(time.RFC3339, expiresAt)
	if err != nil || !t.After(s.now()) {
		return nil, nil, ErrInvalidExpiry
	}
	return &t, nil, nil
}

// load reads through the object cache. Click-limited links skip the
// cache: enforcing max_clicks needs the live counter.
func (s *LinkService) load(ctx context.Context, key string) (*model.ShortLink, error) {
	if link, ok := s.cache.GetObject(ctx, key); ok && link.MaxClicks == nil {
		return link, nil
	}
	return s.loadAuthoritative(ctx, key)
}

func (s *LinkService) loadAuthoritative(ctx context.Context, key string) (*model.ShortLink, error) {
	link, err := s.links.GetByCodeOrAlias(ctx, key)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	s.cacheLink(ctx, link)
	return link, nil
}

// cacheLink populates the object region, and the redirect region when
// the link needs no per-request checks.
func (s *LinkService) cacheLink(ctx context.Context, link *model.ShortLink) {
	if link.MaxClicks == nil {
		s.cache.SetObject(ctx, link)
	}
	if cacheableRedirect(link) {
		s.cache.SetRedirect(ctx, link)
	}
}

// cacheableRedirect reports whether a link may be served straight from
// the redirect region. Protected and click-limited links must always
// reach the checks in Resolve.
func cacheableRedirect(link *model.ShortLink) bool {
	return !link.IsProtected && link.MaxClicks == nil
}

// removeDead lazily deletes a link that resolution found expired, so
// later lookups answer not-found.
func (s *LinkService) removeDead(ctx context.Context, link *model.ShortLink) {
	if err := s.links.Delete(ctx, link.Code); err != nil && !errors.Is(err, repository.ErrNotFound) {
		s.logger.Warn("failed to remove dead link",
			slog.String("code", link.Code), slog.String("error", err.Error()))
	}
	if err := s.analytics.DeleteByCode(ctx, link.Code); err != nil {
		s.logger.Warn("failed to remove analytics rows",
			slog.String("code", link.Code), slog.String("error", err.Error()))
	}
	s.cache.EvictLink(ctx, link)
}

// recordClickByKey runs click accounting for a redirect served from
// cache, off the request path.
func (s *LinkService) recordClickByKey(key, visitorID string, r *http.Request) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	link, err := s.load(ctx, key)
	if err != nil {
		s.logger.Warn("click accounting lost its link",
			slog.String("key", key), slog.String("error", err.Error()))
		return
	}
	s.recordClick(ctx, link, visitorID, r)
}

func (s *LinkService) recordClick(ctx context.Context, link *model.ShortLink, visitorID string, r *http.Request) {
	if err := s.links.IncrementClickCount(ctx, link.Code); err != nil {
		s.logger.Warn("failed to count click",
			slog.String("code", link.Code), slog.String("error", err.Error()))
	}

	fingerprint := visitorFingerprint(visitorID, r)
	if s.cache.AddVisitor(ctx, link.Code, fingerprint) {
		if err := s.links.IncrementUniqueVisitors(ctx, link.Code); err != nil {
			s.logger.Warn("failed to count unique visitor",
				slog.String("code", link.Code), slog.String("error", err.Error()))
		}
	}

	if s.producer != nil {
		s.producer.Publish(analytics.NewClickEvent(link.Code, r, s.now()))
	}
}

// visitorFingerprint hashes the caller-provided visitor id, falling
// back to remote address plus user agent.
func visitorFingerprint(visitorID string, r *http.Request) string {
	material := visitorID
	if material == "" {
		material = r.RemoteAddr + "|" + r.UserAgent()
	}
	sum := md5.Sum([]byte(material))
	return hex.EncodeToString(sum[:])
}

func (s *LinkService) countRedirect() {
	if s.metrics != nil {
		s.metrics.RedirectsTotal.Inc()
	}
}

// RebuildGuard loads every live code and alias into the existence
// guard. Called once at startup.
func RebuildGuard(ctx context.Context, links *repository.LinkRepository) (*guard.ExistenceGuard, error) {
	count, err := links.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("counting links: %w", err)
	}
	g := guard.New(uint(count))
	keys, err := links.ListKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing keys: %w", err)
	}
	for _, key := range keys {
		g.Add(key)
	}
	return g, nil
}

func lowerKey(key string) string { return strings.ToLower(strings.TrimSpace(key)) }

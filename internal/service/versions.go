package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/snaplink/snaplink/internal/model"
	"github.com/snaplink/snaplink/internal/repository"
)

// linkState is the versioned portion of a link: exactly the fields a
// version snapshot captures.
type linkState struct {
	destination  string
	alias        *string
	isProtected  bool
	autoGen      bool
	passwordHash *string
	expiresAt    *time.Time
	maxClicks    *int
}

func stateOfLink(link *model.ShortLink) linkState {
	return linkState{
		destination:  link.DestinationURL,
		alias:        link.Alias,
		isProtected:  link.IsProtected,
		autoGen:      link.PasswordAutoGen,
		passwordHash: link.PasswordHash,
		expiresAt:    link.ExpiresAt,
		maxClicks:    link.MaxClicks,
	}
}

func stateOfVersion(v *model.LinkVersion) linkState {
	return linkState{
		destination:  v.DestinationURL,
		alias:        v.Alias,
		isProtected:  v.IsProtected,
		autoGen:      v.PasswordAutoGen,
		passwordHash: v.PasswordHash,
		expiresAt:    v.ExpiresAt,
		maxClicks:    v.MaxClicks,
	}
}

func (a linkState) equal(b linkState) bool {
	return a.destination == b.destination &&
		strPtrEqual(a.alias, b.alias) &&
		a.isProtected == b.isProtected &&
		a.autoGen == b.autoGen &&
		strPtrEqual(a.passwordHash, b.passwordHash) &&
		timePtrEqual(a.expiresAt, b.expiresAt) &&
		intPtrEqual(a.maxClicks, b.maxClicks)
}

func (st linkState) toVersion(linkID int64, number int, isRollback bool, rollbackFrom *int) *model.LinkVersion {
	return &model.LinkVersion{
		LinkID:          linkID,
		VersionNumber:   number,
		DestinationURL:  st.destination,
		Alias:           st.alias,
		IsProtected:     st.isProtected,
		PasswordAutoGen: st.autoGen,
		PasswordHash:    st.passwordHash,
		ExpiresAt:       st.expiresAt,
		MaxClicks:       st.maxClicks,
		IsRollback:      isRollback,
		RollbackFrom:    rollbackFrom,
	}
}

// Update applies a partial update; nil request fields keep their
// current values. The returned string is a freshly generated password
// when auto-generation was requested. Identical proposed state is a
// no-op that returns the unchanged link.
func (s *LinkService) Update(ctx context.Context, key string, req *model.UpdateLinkRequest) (*model.ShortLink, string, error) {
	link, err := s.loadAuthoritative(ctx, key)
	if err != nil {
		return nil, "", err
	}

	unlock := s.locks.Lock(lowerKey(link.Code))
	defer unlock()

	// Reload under the lock so the proposed state builds on what the
	// previous holder committed.
	link, err = s.loadAuthoritative(ctx, link.Code)
	if err != nil {
		return nil, "", err
	}

	proposed, generated, err := s.proposeState(ctx, link, req)
	if err != nil {
		return nil, "", err
	}
	updated, err := s.mutate(ctx, link, proposed, false, nil)
	if err != nil {
		return nil, "", err
	}
	return updated, generated, nil
}

// Rollback restores the state captured by the target version through
// the regular update procedure, marking the resulting version as a
// rollback.
func (s *LinkService) Rollback(ctx context.Context, key string, target int) (*model.ShortLink, error) {
	link, err := s.loadAuthoritative(ctx, key)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(lowerKey(link.Code))
	defer unlock()

	link, err = s.loadAuthoritative(ctx, link.Code)
	if err != nil {
		return nil, err
	}

	version, err := s.versions.Get(ctx, link.ID, target)
	if err != nil {
		if errors.Is(err, repository.ErrVersionNotFound) {
			return nil, ErrVersionNotFound
		}
		return nil, err
	}

	from := target
	return s.mutate(ctx, link, stateOfVersion(version), true, &from)
}

// ListVersions returns a link's full history, newest first.
func (s *LinkService) ListVersions(ctx context.Context, key string) ([]*model.LinkVersion, error) {
	link, err := s.load(ctx, key)
	if err != nil {
		return nil, err
	}
	return s.versions.ListByLink(ctx, link.ID)
}

// GetVersion returns one history entry.
func (s *LinkService) GetVersion(ctx context.Context, key string, number int) (*model.LinkVersion, error) {
	link, err := s.load(ctx, key)
	if err != nil {
		return nil, err
	}
	version, err := s.versions.Get(ctx, link.ID, number)
	if err != nil {
		if errors.Is(err, repository.ErrVersionNotFound) {
			return nil, ErrVersionNotFound
		}
		return nil, err
	}
	return version, nil
}

// CurrentVersion returns the history entry the link currently points at.
func (s *LinkService) CurrentVersion(ctx context.Context, key string) (*model.LinkVersion, error) {
	link, err := s.load(ctx, key)
	if err != nil {
		return nil, err
	}
	return s.GetVersion(ctx, link.Code, link.CurrentVersion)
}

// CompareVersions diffs two history entries field by field; identical
// fields are omitted.
func (s *LinkService) CompareVersions(ctx context.Context, key string, from, to int) (map[string]model.FieldDiff, error) {
	a, err := s.GetVersion(ctx, key, from)
	if err != nil {
		return nil, err
	}
	b, err := s.GetVersion(ctx, key, to)
	if err != nil {
		return nil, err
	}

	diff := make(map[string]model.FieldDiff)
	if a.DestinationURL != b.DestinationURL {
		diff["destination_url"] = model.FieldDiff{Old: a.DestinationURL, New: b.DestinationURL}
	}
	if !strPtrEqual(a.Alias, b.Alias) {
		diff["alias"] = model.FieldDiff{Old: derefStr(a.Alias), New: derefStr(b.Alias)}
	}
	if a.IsProtected != b.IsProtected {
		diff["is_protected"] = model.FieldDiff{Old: a.IsProtected, New: b.IsProtected}
	}
	if !timePtrEqual(a.ExpiresAt, b.ExpiresAt) {
		diff["expires_at"] = model.FieldDiff{Old: timeValue(a.ExpiresAt), New: timeValue(b.ExpiresAt)}
	}
	if !intPtrEqual(a.MaxClicks, b.MaxClicks) {
		diff["max_clicks"] = model.FieldDiff{Old: a.MaxClicks, New: b.MaxClicks}
	}
	return diff, nil
}

// DeleteVersion removes a historical entry. The current version is
// load-bearing and cannot be removed.
func (s *LinkService) DeleteVersion(ctx context.Context, key string, number int) error {
	link, err := s.loadAuthoritative(ctx, key)
	if err != nil {
		return err
	}
	if number == link.CurrentVersion {
		return ErrCurrentVersion
	}
	if err := s.versions.Delete(ctx, link.ID, number); err != nil {
		if errors.Is(err, repository.ErrVersionNotFound) {
			return ErrVersionNotFound
		}
		return err
	}
	return nil
}

// proposeState folds a partial update request into the link's current
// state, validating every supplied field.
func (s *LinkService) proposeState(ctx context.Context, link *model.ShortLink, req *model.UpdateLinkRequest) (linkState, string, error) {
	st := stateOfLink(link)
	generated := ""

	if req.URL != nil {
		normalized, err := NormalizeURL(*req.URL)
		if err != nil {
			return st, "", err
		}
		if s.cfg.VerifyReachability && !CheckReachable(ctx, normalized) {
			return st, "", ErrUnreachableURL
		}
		st.destination = normalized
	}

	if req.Alias != nil {
		switch alias := *req.Alias; {
		case alias == "":
			st.alias = nil
		case link.Alias != nil && lowerKey(alias) == lowerKey(*link.Alias):
			st.alias = &alias
		default:
			if err := s.validateAlias(alias); err != nil {
				return st, "", err
			}
			taken, err := s.keyTaken(ctx, alias)
			if err != nil {
				return st, "", err
			}
			if taken {
				return st, "", ErrAliasTaken
			}
			st.alias = &alias
		}
	}

	switch {
	case req.AutoGeneratePassword != nil && *req.AutoGeneratePassword:
		pw, err := generatePassword()
		if err != nil {
			return st, "", fmt.Errorf("generating password: %w", err)
		}
		hash, err := hashPassword(pw)
		if err != nil {
			return st, "", fmt.Errorf("hashing password: %w", err)
		}
		generated = pw
		st.passwordHash = &hash
		st.isProtected = true
		st.autoGen = true
	case req.Password != nil && *req.Password != "":
		hash, err := hashPassword(*req.Password)
		if err != nil {
			return st, "", fmt.Errorf("hashing password: %w", err)
		}
		st.passwordHash = &hash
		st.isProtected = true
		st.autoGen = false
	case req.Protected != nil && !*req.Protected:
		st.passwordHash = nil
		st.isProtected = false
		st.autoGen = false
	case req.Protected != nil && *req.Protected && st.passwordHash == nil:
		return st, "", ErrPasswordMissing
	}

	if req.ExpiresAt != nil {
		if *req.ExpiresAt == "" {
			st.expiresAt = nil
		} else {
			t, err := time.Parse(time.RFC3339, *req.ExpiresAt)
			if err != nil || !t.After(s.now()) {
				return st, "", ErrInvalidExpiry
			}
			st.expiresAt = &t
		}
	}
	if req.MaxClicks != nil {
		switch {
		case *req.MaxClicks == 0:
			st.maxClicks = nil
		case *req.MaxClicks < 0:
			return st, "", ErrInvalidClicks
		default:
			st.maxClicks = req.MaxClicks
		}
	}
	if st.expiresAt != nil && st.maxClicks != nil {
		return st, "", ErrAmbiguousExpiry
	}

	return st, generated, nil
}

// mutate runs the versioned update procedure: no-op on identical
// state, backstop snapshot when the latest version does not capture
// the current state, then the post-update version and the link row in
// one transaction.
func (s *LinkService) mutate(ctx context.Context, link *model.ShortLink, proposed linkState, isRollback bool, rollbackFrom *int) (*model.ShortLink, error) {
	current := stateOfLink(link)
	if current.equal(proposed) {
		return link, nil
	}

	latestN, err := s.versions.LatestVersionNumber(ctx, link.ID)
	if err != nil {
		return nil, err
	}

	var backup *model.LinkVersion
	nextN := latestN + 1
	needBackup := latestN == 0
	if latestN > 0 {
		latest, err := s.versions.Get(ctx, link.ID, latestN)
		if err != nil {
			return nil, err
		}
		needBackup = !stateOfVersion(latest).equal(current)
	}
	if needBackup {
		backup = current.toVersion(link.ID, nextN, false, nil)
		nextN++
	}
	next := proposed.toVersion(link.ID, nextN, isRollback, rollbackFrom)

	updated := *link
	updated.DestinationURL = proposed.destination
	updated.Alias = proposed.alias
	updated.IsProtected = proposed.isProtected
	updated.PasswordAutoGen = proposed.autoGen
	updated.PasswordHash = proposed.passwordHash
	updated.ExpiresAt = proposed.expiresAt
	updated.MaxClicks = proposed.maxClicks
	updated.CurrentVersion = nextN
	updated.UpdatedAt = s.now()

	if err := s.versions.ApplyUpdate(ctx, &updated, backup, next); err != nil {
		if errors.Is(err, repository.ErrKeyConflict) {
			return nil, ErrAliasTaken
		}
		return nil, err
	}

	// Old keys go first so a stale alias can never serve the new link.
	s.cache.Evict(ctx, link.Code)
	if link.Alias != nil {
		s.cache.Evict(ctx, *link.Alias)
	}
	if link.DestinationURL != updated.DestinationURL {
		s.cache.EvictDedup(ctx, link.DestinationURL)
	}
	if updated.Alias != nil {
		s.guard.Add(*updated.Alias)
	}
	s.cacheLink(ctx, &updated)

	s.logger.Info("link updated",
		slog.String("code", link.Code),
		slog.Int("version", nextN),
		slog.Bool("rollback", isRollback))
	return &updated, nil
}

func strPtrEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func timePtrEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func intPtrEqual(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func derefStr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func timeValue(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
}

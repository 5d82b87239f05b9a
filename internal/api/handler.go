package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/snaplink/snaplink/internal/model"
	"github.com/snaplink/snaplink/internal/service"
)

// visitorCookie carries the visitor id used for unique-visitor
// counting. Set on the first redirect a browser follows.
const visitorCookie = "sl_visitor"

// LinkService defines the business operations the handler depends on.
// Declared here so tests can substitute a fake without a database.
type LinkService interface {
	Create(ctx context.Context, req *model.CreateLinkRequest) (*model.ShortLink, string, error)
	Get(ctx context.Context, key string) (*model.ShortLink, error)
	Update(ctx context.Context, key string, req *model.UpdateLinkRequest) (*model.ShortLink, string, error)
	Delete(ctx context.Context, key string) error
	Resolve(ctx context.Context, key, password, visitorID string, r *http.Request) (string, error)
	ListAnalytics(ctx context.Context, key string) ([]*model.DailyAnalytics, error)
	ListVersions(ctx context.Context, key string) ([]*model.LinkVersion, error)
	CurrentVersion(ctx context.Context, key string) (*model.LinkVersion, error)
	CompareVersions(ctx context.Context, key string, from, to int) (map[string]model.FieldDiff, error)
	Rollback(ctx context.Context, key string, target int) (*model.ShortLink, error)
	DeleteVersion(ctx context.Context, key string, number int) error
}

// DBInterface defines the database operations needed for health checks.
type DBInterface interface {
	Ping(ctx context.Context) error
}

// CacheInterface defines the cache operations needed for health checks.
type CacheInterface interface {
	Ping(ctx context.Context) error
}

// Handler holds HTTP handlers and dependencies.
type Handler struct {
	links   LinkService
	db      DBInterface
	cache   CacheInterface
	baseURL string
	logger  *slog.Logger
}

// NewHandler creates a new handler instance with the provided dependencies.
func NewHandler(links LinkService, db DBInterface, cache CacheInterface, baseURL string, logger *slog.Logger) *Handler {
	return &Handler{
		links:   links,
		db:      db,
		cache:   cache,
		baseURL: baseURL,
		logger:  logger,
	}
}

// RegisterRoutes registers all route definitions on the given Gin engine.
// The caller creates the engine and adds middleware first, so middleware
// runs in the correct order. The public redirect route is registered
// last to avoid shadowing the API groups.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.healthCheck)

	v1 := r.Group("/api/v1")
	{
		v1.POST("/links", h.createLink)
		v1.GET("/links/:code", h.getLink)
		v1.PATCH("/links/:code", h.updateLink)
		v1.DELETE("/links/:code", h.deleteLink)

		v1.GET("/links/:code/analytics", h.listAnalytics)

		v1.GET("/links/:code/versions", h.listVersions)
		v1.GET("/links/:code/versions/current", h.currentVersion)
		v1.GET("/links/:code/versions/compare", h.compareVersions)
		v1.POST("/links/:code/versions/:number/rollback", h.rollbackVersion)
		v1.DELETE("/links/:code/versions/:number", h.deleteVersion)
	}

	r.GET("/:code", h.redirect)
}

// healthCheck handles GET /health
// Response codes:
//   - 200 OK: all dependencies are healthy
//   - 503 Service Unavailable: one or more dependencies are down
func (h *Handler) healthCheck(c *gin.Context) {
	ctx := c.Request.Context()

	cacheErr := h.cache.Ping(ctx)
	dbErr := h.db.Ping(ctx)

	status := "ok"
	code := http.StatusOK
	deps := gin.H{"cache": "up", "database": "up"}

	if cacheErr != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
		deps["cache"] = "down"
	}
	if dbErr != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
		deps["database"] = "down"
	}

	c.JSON(code, gin.H{"status": status, "dependencies": deps})
}

// createLink handles POST /api/v1/links
// Response codes:
//   - 201 Created: short link created (or deduplicated onto an existing one)
//   - 400 Bad Request: invalid body, URL, alias, expiry or click limit
//   - 409 Conflict: alias already taken, or conflicting expiry settings
//   - 500 Internal Server Error: unexpected error
func (h *Handler) createLink(c *gin.Context) {
	ctx := c.Request.Context()
	var req model.CreateLinkRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.WarnContext(ctx, "invalid request body",
			slog.String("error", err.Error()),
			slog.String("path", c.Request.URL.Path))
		h.errorResponse(c, http.StatusBadRequest, "Invalid request body")
		return
	}

	link, generated, err := h.links.Create(ctx, &req)
	if err != nil {
		h.mapError(c, err, "creating link")
		return
	}

	resp := h.toLinkResponse(link)
	resp.GeneratedPassword = generated
	c.JSON(http.StatusCreated, resp)
}

// getLink handles GET /api/v1/links/:code
// Returns metadata without counting a click. The :code parameter
// accepts a code or an alias, as everywhere else.
func (h *Handler) getLink(c *gin.Context) {
	ctx := c.Request.Context()
	key := c.Param("code")

	link, err := h.links.Get(ctx, key)
	if err != nil {
		h.mapError(c, err, "fetching link")
		return
	}
	c.JSON(http.StatusOK, h.toLinkResponse(link))
}

// updateLink handles PATCH /api/v1/links/:code
// Applies a partial update; omitted fields keep their values. A
// successful change appends to the version history.
func (h *Handler) updateLink(c *gin.Context) {
	ctx := c.Request.Context()
	key := c.Param("code")
	var req model.UpdateLinkRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.WarnContext(ctx, "invalid request body",
			slog.String("error", err.Error()),
			slog.String("path", c.Request.URL.Path))
		h.errorResponse(c, http.StatusBadRequest, "Invalid request body")
		return
	}

	link, generated, err := h.links.Update(ctx, key, &req)
	if err != nil {
		h.mapError(c, err, "updating link")
		return
	}

	resp := h.toLinkResponse(link)
	resp.GeneratedPassword = generated
	c.JSON(http.StatusOK, resp)
}

// deleteLink handles DELETE /api/v1/links/:code
// Response codes:
//   - 204 No Content: link deleted
//   - 404 Not Found: unknown code or alias
func (h *Handler) deleteLink(c *gin.Context) {
	ctx := c.Request.Context()
	key := c.Param("code")

	if err := h.links.Delete(ctx, key); err != nil {
		h.mapError(c, err, "deleting link")
		return
	}
	c.Status(http.StatusNoContent)
}

// listAnalytics handles GET /api/v1/links/:code/analytics
func (h *Handler) listAnalytics(c *gin.Context) {
	ctx := c.Request.Context()
	key := c.Param("code")

	rows, err := h.links.ListAnalytics(ctx, key)
	if err != nil {
		h.mapError(c, err, "fetching analytics")
		return
	}

	out := make([]model.DailyAnalyticsResponse, 0, len(rows))
	for _, row := range rows {
		out = append(out, toAnalyticsResponse(row))
	}
	c.JSON(http.StatusOK, gin.H{"analytics": out})
}

// listVersions handles GET /api/v1/links/:code/versions
func (h *Handler) listVersions(c *gin.Context) {
	ctx := c.Request.Context()
	key := c.Param("code")

	versions, err := h.links.ListVersions(ctx, key)
	if err != nil {
		h.mapError(c, err, "listing versions")
		return
	}

	out := make([]model.VersionResponse, 0, len(versions))
	for _, v := range versions {
		out = append(out, toVersionResponse(v))
	}
	c.JSON(http.StatusOK, gin.H{"versions": out})
}

// currentVersion handles GET /api/v1/links/:code/versions/current
func (h *Handler) currentVersion(c *gin.Context) {
	ctx := c.Request.Context()
	key := c.Param("code")

	version, err := h.links.CurrentVersion(ctx, key)
	if err != nil {
		h.mapError(c, err, "fetching current version")
		return
	}
	c.JSON(http.StatusOK, toVersionResponse(version))
}

// compareVersions handles GET /api/v1/links/:code/versions/compare?from=&to=
// Returns the differing fields between two versions; an empty object
// means the versions are identical.
func (h *Handler) compareVersions(c *gin.Context) {
	ctx := c.Request.Context()
	key := c.Param("code")

	from, errFrom := strconv.Atoi(c.Query("from"))
	to, errTo := strconv.Atoi(c.Query("to"))
	if errFrom != nil || errTo != nil || from < 1 || to < 1 {
		h.errorResponse(c, http.StatusBadRequest, "from and to must be positive version numbers")
		return
	}

	diff, err := h.links.CompareVersions(ctx, key, from, to)
	if err != nil {
		h.mapError(c, err, "comparing versions")
		return
	}
	c.JSON(http.StatusOK, gin.H{"from": from, "to": to, "diff": diff})
}

// rollbackVersion handles POST /api/v1/links/:code/versions/:number/rollback
// Restores the target version's state as a new version.
func (h *Handler) rollbackVersion(c *gin.Context) {
	ctx := c.Request.Context()
	key := c.Param("code")

	number, err := strconv.Atoi(c.Param("number"))
	if err != nil || number < 1 {
		h.errorResponse(c, http.StatusBadRequest, "Invalid version number")
		return
	}

	link, err := h.links.Rollback(ctx, key, number)
	if err != nil {
		h.mapError(c, err, "rolling back")
		return
	}
	c.JSON(http.StatusOK, h.toLinkResponse(link))
}

// deleteVersion handles DELETE /api/v1/links/:code/versions/:number
// Response codes:
//   - 204 No Content: historical version removed
//   - 404 Not Found: unknown link or version
//   - 409 Conflict: target is the current version
func (h *Handler) deleteVersion(c *gin.Context) {
	ctx := c.Request.Context()
	key := c.Param("code")

	number, err := strconv.Atoi(c.Param("number"))
	if err != nil || number < 1 {
		h.errorResponse(c, http.StatusBadRequest, "Invalid version number")
		return
	}

	if err := h.links.DeleteVersion(ctx, key, number); err != nil {
		h.mapError(c, err, "deleting version")
		return
	}
	c.Status(http.StatusNoContent)
}

// redirect handles GET /:code
// Resolves a code or alias and redirects to the destination. Password
// protected links take the password via the ?password= query parameter.
// Response codes:
//   - 302 Found: redirect to destination
//   - 401 Unauthorized: password missing or wrong
//   - 404 Not Found: unknown code or alias
//   - 410 Gone: link expired or click limit reached
//   - 429 Too Many Requests: too many failed password attempts
func (h *Handler) redirect(c *gin.Context) {
	ctx := c.Request.Context()
	key := c.Param("code")
	password := c.Query("password")

	visitorID, err := c.Cookie(visitorCookie)
	if err != nil || visitorID == "" {
		visitorID = uuid.NewString()
		c.SetCookie(visitorCookie, visitorID, int((30 * 24 * time.Hour).Seconds()), "/", "", false, true)
	}

	destination, err := h.links.Resolve(ctx, key, password, visitorID, c.Request)
	if err != nil {
		h.mapError(c, err, "resolving link")
		return
	}

	// 302 keeps clients coming back, so clicks stay countable.
	c.Redirect(http.StatusFound, destination)
}

// mapError translates service errors into HTTP responses.
func (h *Handler) mapError(c *gin.Context, err error, action string) {
	switch {
	case errors.Is(err, service.ErrInvalidURL):
		h.errorResponse(c, http.StatusBadRequest, "Invalid URL")
	case errors.Is(err, service.ErrUnreachableURL):
		h.errorResponse(c, http.StatusBadRequest, "Destination URL is not reachable")
	case errors.Is(err, service.ErrInvalidAlias):
		h.errorResponse(c, http.StatusBadRequest, "Invalid alias")
	case errors.Is(err, service.ErrInvalidExpiry):
		h.errorResponse(c, http.StatusBadRequest, "Expiry must be a future RFC 3339 timestamp")
	case errors.Is(err, service.ErrInvalidClicks):
		h.errorResponse(c, http.StatusBadRequest, "max_clicks must be positive")
	case errors.Is(err, service.ErrPasswordMissing):
		h.errorResponse(c, http.StatusBadRequest, "Protecting a link requires a password")
	case errors.Is(err, service.ErrAmbiguousExpiry):
		h.errorResponse(c, http.StatusConflict, "expires_at and max_clicks cannot be combined")
	case errors.Is(err, service.ErrAliasTaken):
		h.errorResponse(c, http.StatusConflict, "Alias already taken")
	case errors.Is(err, service.ErrCurrentVersion):
		h.errorResponse(c, http.StatusConflict, "The current version cannot be deleted")
	case errors.Is(err, service.ErrNotFound):
		h.errorResponse(c, http.StatusNotFound, "Link not found")
	case errors.Is(err, service.ErrVersionNotFound):
		h.errorResponse(c, http.StatusNotFound, "Version not found")
	case errors.Is(err, service.ErrExpired):
		h.errorResponse(c, http.StatusGone, "Link has expired")
	case errors.Is(err, service.ErrPasswordRequired):
		h.errorResponse(c, http.StatusUnauthorized, "Password required")
	case errors.Is(err, service.ErrWrongPassword):
		h.errorResponse(c, http.StatusUnauthorized, "Wrong password")
	case errors.Is(err, service.ErrTooManyAttempts):
		h.errorResponse(c, http.StatusTooManyRequests, "Too many failed password attempts")
	default:
		h.logger.ErrorContext(c.Request.Context(), "unexpected error "+action,
			slog.String("error", err.Error()),
			slog.String("path", c.Request.URL.Path))
		h.errorResponse(c, http.StatusInternalServerError, "Internal server error")
	}
}

// errorResponse sends a standardized JSON error response.
func (h *Handler) errorResponse(c *gin.Context, status int, message string) {
	c.JSON(status, model.ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
	})
}

func (h *Handler) toLinkResponse(link *model.ShortLink) model.LinkResponse {
	resp := model.LinkResponse{
		Code:               link.Code,
		ShortURL:           h.baseURL + "/" + link.Code,
		DestinationURL:     link.DestinationURL,
		IsProtected:        link.IsProtected,
		MaxClicks:          link.MaxClicks,
		ClickCount:         link.ClickCount,
		UniqueVisitorCount: link.UniqueVisitorCount,
		CurrentVersion:     link.CurrentVersion,
		CreatedAt:          link.CreatedAt.Format(time.RFC3339),
	}
	if link.Alias != nil {
		resp.AliasURL = h.baseURL + "/" + *link.Alias
	}
	if link.ExpiresAt != nil {
		resp.ExpiresAt = link.ExpiresAt.Format(time.RFC3339)
	}
	return resp
}

func toVersionResponse(v *model.LinkVersion) model.VersionResponse {
	resp := model.VersionResponse{
		VersionNumber:  v.VersionNumber,
		DestinationURL: v.DestinationURL,
		IsProtected:    v.IsProtected,
		MaxClicks:      v.MaxClicks,
		IsRollback:     v.IsRollback,
		RollbackFrom:   v.RollbackFrom,
		CreatedAt:      v.CreatedAt.Format(time.RFC3339),
	}
	if v.Alias != nil {
		resp.Alias = *v.Alias
	}
	if v.ExpiresAt != nil {
		resp.ExpiresAt = v.ExpiresAt.Format(time.RFC3339)
	}
	return resp
}

func toAnalyticsResponse(a *model.DailyAnalytics) model.DailyAnalyticsResponse {
	return model.DailyAnalyticsResponse{
		AccessDate:         a.AccessDate.Format("2006-01-02"),
		TotalVisitCount:    a.TotalVisitCount,
		BrowserVisitCounts: a.BrowserVisitCounts,
		DeviceVisitCounts:  a.DeviceVisitCounts,
		OSVisitCounts:      a.OSVisitCounts,
		ClicksLast10Min:    a.ClicksLast10Min,
		ClicksLast1Hour:    a.ClicksLast1Hour,
		Country:            a.Country,
		Referer:            a.Referer,
		LastAccessTime:     a.LastAccessTime.Format(time.RFC3339),
	}
}

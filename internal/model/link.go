package model

import "time"

// ShortLink is the authoritative record for a shortened URL.
// Code is assigned once and never changes; Alias is an optional
// user-chosen name and may be updated. Both are unique case-insensitively.
type ShortLink struct {
	ID                 int64      `json:"id"`
	Code               string     `json:"code"`
	Alias              *string    `json:"alias,omitempty"`
	DestinationURL     string     `json:"destination_url"`
	IsProtected        bool       `json:"is_protected"`
	PasswordAutoGen    bool       `json:"password_auto_generated"`
	PasswordHash       *string    `json:"password_hash,omitempty"`
	ExpiresAt          *time.Time `json:"expires_at,omitempty"`
	MaxClicks          *int       `json:"max_clicks,omitempty"`
	ClickCount         int64      `json:"click_count"`
	UniqueVisitorCount int64      `json:"unique_visitor_count"`
	CurrentVersion     int        `json:"current_version"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// LinkVersion is an immutable snapshot of a link's mutable fields.
// Version numbers are contiguous per link, starting at 1.
type LinkVersion struct {
	ID              int64      `json:"id"`
	LinkID          int64      `json:"link_id"`
	VersionNumber   int        `json:"version_number"`
	DestinationURL  string     `json:"destination_url"`
	Alias           *string    `json:"alias,omitempty"`
	IsProtected     bool       `json:"is_protected"`
	PasswordAutoGen bool       `json:"password_auto_generated"`
	PasswordHash    *string    `json:"password_hash,omitempty"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
	MaxClicks       *int       `json:"max_clicks,omitempty"`
	IsRollback      bool       `json:"is_rollback"`
	RollbackFrom    *int       `json:"rollback_from_version,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// CreateLinkRequest represents the request body for creating a short link
type CreateLinkRequest struct {
	URL                  string `json:"url" binding:"required"`
	Alias                string `json:"alias,omitempty"`
	Password             string `json:"password,omitempty"`
	AutoGeneratePassword bool   `json:"auto_generate_password,omitempty"`
	ExpiresAt            string `json:"expires_at,omitempty"` // RFC 3339
	MaxClicks            *int   `json:"max_clicks,omitempty"`
}

// UpdateLinkRequest carries a partial update; nil fields keep their
// current values.
type UpdateLinkRequest struct {
	URL                  *string `json:"url,omitempty"`
	Alias                *string `json:"alias,omitempty"`
	Protected            *bool   `json:"protected,omitempty"`
	Password             *string `json:"password,omitempty"`
	AutoGeneratePassword *bool   `json:"auto_generate_password,omitempty"`
	ExpiresAt            *string `json:"expires_at,omitempty"` // RFC 3339
	MaxClicks            *int    `json:"max_clicks,omitempty"`
}

// LinkResponse represents the link summary returned to callers
type LinkResponse struct {
	Code               string `json:"code"`
	ShortURL           string `json:"short_url"`
	AliasURL           string `json:"alias_url,omitempty"`
	DestinationURL     string `json:"destination_url"`
	IsProtected        bool   `json:"is_protected"`
	GeneratedPassword  string `json:"generated_password,omitempty"`
	ExpiresAt          string `json:"expires_at,omitempty"`
	MaxClicks          *int   `json:"max_clicks,omitempty"`
	ClickCount         int64  `json:"click_count"`
	UniqueVisitorCount int64  `json:"unique_visitor_count"`
	CurrentVersion     int    `json:"current_version"`
	CreatedAt          string `json:"created_at"`
}

// VersionResponse represents a single history entry of a link
type VersionResponse struct {
	VersionNumber  int    `json:"version_number"`
	DestinationURL string `json:"destination_url"`
	Alias          string `json:"alias,omitempty"`
	IsProtected    bool   `json:"is_protected"`
	ExpiresAt      string `json:"expires_at,omitempty"`
	MaxClicks      *int   `json:"max_clicks,omitempty"`
	IsRollback     bool   `json:"is_rollback"`
	RollbackFrom   *int   `json:"rollback_from_version,omitempty"`
	CreatedAt      string `json:"created_at"`
}

// FieldDiff is one differing field in a version comparison.
type FieldDiff struct {
	Old any `json:"old"`
	New any `json:"new"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

package model

import "time"

// DailyAnalytics aggregates click activity for one link on one calendar
// day. Counter maps are additive across merges; the snapshot fields
// (geo, referrer, UTM, user agent) are last-write-wins.
type DailyAnalytics struct {
	ID         int64     `json:"id"`
	Code       string    `json:"code"`
	AccessDate time.Time `json:"access_date"`

	TotalVisitCount int64 `json:"total_visit_count"`

	BrowserVisitCounts map[string]int64 `json:"browser_visit_counts"`
	DeviceVisitCounts  map[string]int64 `json:"device_visit_counts"`
	OSVisitCounts      map[string]int64 `json:"os_visit_counts"`

	BrowserLastSeen map[string]time.Time `json:"browser_last_seen"`
	DeviceLastSeen  map[string]time.Time `json:"device_last_seen"`

	Country   string   `json:"country,omitempty"`
	City      string   `json:"city,omitempty"`
	Region    string   `json:"region,omitempty"`
	Continent string   `json:"continent,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`

	Referer     string `json:"referer,omitempty"`
	UTMSource   string `json:"utm_source,omitempty"`
	UTMMedium   string `json:"utm_medium,omitempty"`
	UTMCampaign string `json:"utm_campaign,omitempty"`
	UTMTerm     string `json:"utm_term,omitempty"`

	IsBot     bool   `json:"is_bot"`
	UserAgent string `json:"user_agent,omitempty"`

	// RecentAccessTimes is a sliding window; entries older than one
	// hour are pruned on every merge. ClicksLast10Min and
	// ClicksLast1Hour are derived from it.
	RecentAccessTimes []time.Time `json:"recent_access_times"`
	ClicksLast10Min   int         `json:"clicks_last_10_min"`
	ClicksLast1Hour   int         `json:"clicks_last_1_hour"`

	LastAccessTime time.Time `json:"last_access_time"`
}

// ClickEvent is one resolved redirect, published to the analytics queue.
// Counter maps carry single increments (value 1 under the observed key)
// so the consumer can merge them additively.
type ClickEvent struct {
	Code       string    `json:"code"`
	AccessDate string    `json:"access_date"` // YYYY-MM-DD
	AccessTime time.Time `json:"access_time"`

	TotalVisitCount int64 `json:"total_visit_count"`

	BrowserVisitCounts map[string]int64 `json:"browser_visit_counts"`
	DeviceVisitCounts  map[string]int64 `json:"device_visit_counts"`
	OSVisitCounts      map[string]int64 `json:"os_visit_counts"`

	BrowserLastSeen map[string]time.Time `json:"browser_last_seen"`
	DeviceLastSeen  map[string]time.Time `json:"device_last_seen"`

	Browser    string `json:"browser,omitempty"`
	DeviceType string `json:"device_type,omitempty"`
	OS         string `json:"os,omitempty"`

	Country   string   `json:"country,omitempty"`
	City      string   `json:"city,omitempty"`
	Region    string   `json:"region,omitempty"`
	Continent string   `json:"continent,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`

	Referer     string `json:"referer,omitempty"`
	UTMSource   string `json:"utm_source,omitempty"`
	UTMMedium   string `json:"utm_medium,omitempty"`
	UTMCampaign string `json:"utm_campaign,omitempty"`
	UTMTerm     string `json:"utm_term,omitempty"`

	IsBot     bool   `json:"is_bot"`
	UserAgent string `json:"user_agent,omitempty"`
}

// DailyAnalyticsResponse is the per-day view returned by the analytics API.
type DailyAnalyticsResponse struct {
	AccessDate         string           `json:"access_date"`
	TotalVisitCount    int64            `json:"total_visit_count"`
	BrowserVisitCounts map[string]int64 `json:"browser_visit_counts"`
	DeviceVisitCounts  map[string]int64 `json:"device_visit_counts"`
	OSVisitCounts      map[string]int64 `json:"os_visit_counts"`
	ClicksLast10Min    int              `json:"clicks_last_10_min"`
	ClicksLast1Hour    int              `json:"clicks_last_1_hour"`
	Country            string           `json:"country,omitempty"`
	Referer            string           `json:"referer,omitempty"`
	LastAccessTime     string           `json:"last_access_time"`
}

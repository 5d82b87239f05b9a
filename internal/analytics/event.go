package analytics

import (
	"net/http"
	"strings"
	"time"

	"github.com/snaplink/snaplink/internal/model"
)

// NewClickEvent builds the event published for one resolved redirect.
// Counter maps carry a single increment under the observed key so the
// consumer can merge them additively.
func NewClickEvent(code string, r *http.Request, now time.Time) *model.ClickEvent {
	ua := r.UserAgent()
	browser := detectBrowser(ua)
	device := detectDevice(ua)
	os := detectOS(ua)

	query := r.URL.Query()
	return &model.ClickEvent{
		Code:            code,
		AccessDate:      now.UTC().Format("2006-01-02"),
		AccessTime:      now.UTC(),
		TotalVisitCount: 1,

		BrowserVisitCounts: map[string]int64{browser: 1},
		DeviceVisitCounts:  map[string]int64{device: 1},
		OSVisitCounts:      map[string]int64{os: 1},
		BrowserLastSeen:    map[string]time.Time{browser: now.UTC()},
		DeviceLastSeen:     map[string]time.Time{device: now.UTC()},

		Browser:    browser,
		DeviceType: device,
		OS:         os,

		Referer:     r.Referer(),
		UTMSource:   query.Get("utm_source"),
		UTMMedium:   query.Get("utm_medium"),
		UTMCampaign: query.Get("utm_campaign"),
		UTMTerm:     query.Get("utm_term"),

		IsBot:     detectBot(ua),
		UserAgent: ua,
	}
}

func detectBrowser(ua string) string {
	ua = strings.ToLower(ua)
	switch {
	case strings.Contains(ua, "edg/"):
		return "Edge"
	case strings.Contains(ua, "opr/") || strings.Contains(ua, "opera"):
		return "Opera"
	case strings.Contains(ua, "chrome"):
		return "Chrome"
	case strings.Contains(ua, "firefox"):
		return "Firefox"
	case strings.Contains(ua, "safari"):
		return "Safari"
	case ua == "":
		return "Unknown"
	default:
		return "Other"
	}
}

func detectDevice(ua string) string {
	ua = strings.ToLower(ua)
	switch {
	case strings.Contains(ua, "ipad") || strings.Contains(ua, "tablet"):
		return "Tablet"
	case strings.Contains(ua, "mobi") || strings.Contains(ua, "android") || strings.Contains(ua, "iphone"):
		return "Mobile"
	case ua == "":
		return "Unknown"
	default:
		return "Desktop"
	}
}

func detectOS(ua string) string {
	ua = strings.ToLower(ua)
	switch {
	case strings.Contains(ua, "windows"):
		return "Windows"
	case strings.Contains(ua, "android"):
		return "Android"
	case strings.Contains(ua, "iphone") || strings.Contains(ua, "ipad") || strings.Contains(ua, "ios"):
		return "iOS"
	case strings.Contains(ua, "mac os"):
		return "macOS"
	case strings.Contains(ua, "linux"):
		return "Linux"
	case ua == "":
		return "Unknown"
	default:
		return "Other"
	}
}

func detectBot(ua string) bool {
	ua = strings.ToLower(ua)
	for _, marker := range []string{"bot", "crawler", "spider", "slurp", "curl/", "wget/"} {
		if strings.Contains(ua, marker) {
			return true
		}
	}
	return false
}

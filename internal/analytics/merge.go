// Package analytics carries click events from the redirect path to the
// daily aggregates: a bounded in-process producer, a RabbitMQ consumer
// and the pure merge that folds one event into one day's row.
package analytics

import (
	"time"

	"github.com/snaplink/snaplink/internal/model"
)

const slidingWindow = time.Hour

// MergeEvent folds one click event into a daily aggregate. Counters are
// additive and last-seen timestamps keep the later value, so merging
// the same event twice doubles counts but never corrupts the row;
// delivery is at-least-once and the merge makes no attempt to dedupe.
func MergeEvent(a *model.DailyAnalytics, e *model.ClickEvent, now time.Time) {
	a.TotalVisitCount += e.TotalVisitCount

	a.BrowserVisitCounts = addCounts(a.BrowserVisitCounts, e.BrowserVisitCounts)
	a.DeviceVisitCounts = addCounts(a.DeviceVisitCounts, e.DeviceVisitCounts)
	a.OSVisitCounts = addCounts(a.OSVisitCounts, e.OSVisitCounts)

	a.BrowserLastSeen = keepLater(a.BrowserLastSeen, e.BrowserLastSeen)
	a.DeviceLastSeen = keepLater(a.DeviceLastSeen, e.DeviceLastSeen)

	if e.Country != "" {
		a.Country = e.Country
	}
	if e.City != "" {
		a.City = e.City
	}
	if e.Region != "" {
		a.Region = e.Region
	}
	if e.Continent != "" {
		a.Continent = e.Continent
	}
	if e.Latitude != nil {
		a.Latitude = e.Latitude
	}
	if e.Longitude != nil {
		a.Longitude = e.Longitude
	}
	if e.Referer != "" {
		a.Referer = e.Referer
	}
	if e.UTMSource != "" {
		a.UTMSource = e.UTMSource
	}
	if e.UTMMedium != "" {
		a.UTMMedium = e.UTMMedium
	}
	if e.UTMCampaign != "" {
		a.UTMCampaign = e.UTMCampaign
	}
	if e.UTMTerm != "" {
		a.UTMTerm = e.UTMTerm
	}
	if e.UserAgent != "" {
		a.UserAgent = e.UserAgent
	}
	a.IsBot = e.IsBot

	if e.AccessTime.After(a.LastAccessTime) {
		a.LastAccessTime = e.AccessTime
	}

	a.RecentAccessTimes = pruneWindow(append(a.RecentAccessTimes, e.AccessTime), now)
	a.ClicksLast10Min, a.ClicksLast1Hour = windowCounts(a.RecentAccessTimes, now)
}

func addCounts(dst, src map[string]int64) map[string]int64 {
	if len(src) == 0 {
		return dst
	}
	if dst == nil {
		dst = make(map[string]int64, len(src))
	}
	for k, v := range src {
		dst[k] += v
	}
	return dst
}

func keepLater(dst, src map[string]time.Time) map[string]time.Time {
	if len(src) == 0 {
		return dst
	}
	if dst == nil {
		dst = make(map[string]time.Time, len(src))
	}
	for k, t := range src {
		if t.After(dst[k]) {
			dst[k] = t
		}
	}
	return dst
}

// pruneWindow drops timestamps older than the sliding window. Pruning
// happens at processing time, so an idle link's stale entries survive
// in storage until its next click; the derived counts are recomputed
// against now either way.
func pruneWindow(times []time.Time, now time.Time) []time.Time {
	cutoff := now.Add(-slidingWindow)
	kept := times[:0]
	for _, t := range times {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	return kept
}

func windowCounts(times []time.Time, now time.Time) (last10Min, lastHour int) {
	tenMin := now.Add(-10 * time.Minute)
	hour := now.Add(-slidingWindow)
	for _, t := range times {
		if t.After(hour) {
			lastHour++
			if t.After(tenMin) {
				last10Min++
			}
		}
	}
	return last10Min, lastHour
}

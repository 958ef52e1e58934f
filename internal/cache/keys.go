package cache

import "time"

// FeedKey is where a source's normalized feed is cached.
func FeedKey(url string) string {
	return "rss:" + url
}

// DailyRequestsKey names the request counter for the calendar day of t in
// t's location.
func DailyRequestsKey(t time.Time) string {
	return "daily-requests-" + t.Format("2006-01-02")
}

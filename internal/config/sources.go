package config

import (
	"fmt"
	"net/url"
)

// Source is one remote news endpoint.
type Source struct {
	ID     int    `yaml:"id" json:"id"`
	Name   string `yaml:"name" json:"name"`
	URL    string `yaml:"url" json:"url"`
	Active bool   `yaml:"active" json:"active"`
	Lang   string `yaml:"lang,omitempty" json:"lang,omitempty"`
}

const (
	zhDailyURL   = "https://news.ravelloh.top/latest.json"
	enCurrentURL = "https://api.currentsapi.services/v1/latest-news?apiKey=${CURRENTS_API_KEY}"
	bbcRSS2JSON  = "https://api.rss2json.com/v1/api.json?rss_url=https://feeds.bbci.co.uk/news/rss.xml"
)

// DefaultSources returns the built-in sources for a language. Anything other
// than "en" gets the Chinese daily digest.
func DefaultSources(lang string) []Source {
	if lang == "en" {
		return []Source{{ID: 1, Name: "Daily News", URL: enCurrentURL, Active: true, Lang: "en"}}
	}
	return []Source{{ID: 1, Name: "每日新闻", URL: zhDailyURL, Active: true, Lang: "zh"}}
}

// PreloadSources is the set warmed by the background preloader when it is
// given nothing else.
func PreloadSources() []Source {
	return []Source{
		{ID: 1, Name: "每日新闻", URL: zhDailyURL, Active: true, Lang: "zh"},
		{ID: 2, Name: "Daily News", URL: bbcRSS2JSON, Active: true, Lang: "en"},
	}
}

// ValidateSourceURL accepts absolute http and https URLs only.
func ValidateSourceURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("url scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("url %q has no host", raw)
	}
	return nil
}

// NextSourceID returns an id not used by any of sources.
func NextSourceID(sources []Source) int {
	highest := 0
	for _, s := range sources {
		if s.ID > highest {
			highest = s.ID
		}
	}
	return highest + 1
}

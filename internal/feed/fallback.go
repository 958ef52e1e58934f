package feed

import (
	"fmt"
	"time"
)

const (
	categoryNotice        = "System Notice"
	categoryAbout         = "About"
	categorySetup         = "Setup Guide"
	categoryLanguages     = "Languages"
	categoryCustomization = "Customization"
	categoryHealth        = "Health Tip"
	categoryAccount       = "Account Sync"
	categoryOpenSource    = "Open Source"
)

var fallbackCategories = map[string]bool{
	categoryNotice:        true,
	categoryAbout:         true,
	categorySetup:         true,
	categoryLanguages:     true,
	categoryCustomization: true,
	categoryHealth:        true,
	categoryAccount:       true,
	categoryOpenSource:    true,
}

type fallbackItem struct {
	title, summary, category string
}

// Fallback is the fixed placeholder feed shown when a source cannot be
// fetched and nothing stale is cached. A not-found error switches the first
// and third items to setup instructions.
func Fallback(sourceName string, err error, now time.Time) FeedResult {
	notConfigured := KindOf(err) == KindNotFound

	items := []fallbackItem{
		{"News source temporarily unavailable", "Possible causes: network problems, API limits or server maintenance.", categoryNotice},
		{"Shaking News, a healthier way to read", "The page tilts periodically to keep your neck moving. Pair it with gentle neck exercises.", categoryAbout},
		{"Adding news sources", "You can add other available news sources in the settings.", categorySetup},
		{"Chinese and English supported", "Switch the interface language and configure different news sources in the settings.", categoryLanguages},
		{"Personal settings", "Adjust the tilt frequency (5-300 seconds), maximum tilt angle (5-45 degrees) and font size.", categoryCustomization},
		{"Neck health reminder", "Regular page tilting helps relieve neck fatigue. Combine it with appropriate neck exercises.", categoryHealth},
		{"Account sync", "Sign in to sync your settings and keep the same experience across devices.", categoryAccount},
		{"Open source project", "An open source project combining news reading with healthy habits.", categoryOpenSource},
	}
	if notConfigured {
		items[0].title = "News API needs configuration"
		items[0].summary = "The source domain must serve the JSON endpoints /latest.json (Chinese news) and /news-en.json (English news)."
		items[2].title = "API setup"
		items[2].summary = `Create a JSON endpoint on the server returning {"date":"2025/01/01","content":["news 1","news 2"]}.`
	}

	articles := make([]Article, 0, len(items))
	for i, it := range items {
		articles = append(articles, Article{
			ID:          fmt.Sprintf("fallback-%d-%d", now.UnixMilli(), i+1),
			Title:       it.title,
			Summary:     it.summary,
			Link:        "#",
			PublishedAt: now,
			Category:    it.category,
			SourceName:  sourceName,
		})
	}

	desc := "Fallback content for " + sourceName
	if err != nil {
		desc += " - " + err.Error()
	}
	return FeedResult{Articles: articles, FeedTitle: sourceName, FeedDescription: desc}
}

// IsFallback reports whether a belongs to the placeholder set.
func IsFallback(a Article) bool {
	return fallbackCategories[a.Category] && a.Link == "#"
}

package feed

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/mmcdole/gofeed"
)

// shape is one recognised payload layout. Shapes are tried in order and the
// first match wins.
type shape struct {
	tag   string
	match func(root any) bool
	parse func(p parser, root any) FeedResult
}

var shapes = []shape{
	{tag: "newsapi", match: matchNewsAPI, parse: parseNewsAPI},
	{tag: "rss2json", match: matchRSS2JSON, parse: parseRSS2JSON},
	{tag: "currents", match: matchCurrents, parse: parseCurrents},
	{tag: "daily", match: matchDaily, parse: parseDaily},
	{tag: "json", match: matchGeneric, parse: parseGeneric},
}

// parser carries the per-call context shared by every shape.
type parser struct {
	tag    string
	source string
	now    time.Time
}

func (p parser) id(index int) string {
	return fmt.Sprintf("%s-%d-%d", p.tag, p.now.UnixMilli(), index)
}

func (p parser) defaultTitle() string {
	return p.source
}

func (p parser) defaultDescription() string {
	return "Latest news from " + p.source
}

// Normalize decodes payload and maps it onto the article model. JSON is
// tried first; anything that is not JSON but parses as RSS or Atom is
// accepted as well.
func Normalize(payload []byte, sourceName string, now time.Time) (FeedResult, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()

	var root any
	jsonErr := dec.Decode(&root)
	if jsonErr == nil && dec.More() {
		jsonErr = fmt.Errorf("trailing data after JSON value")
	}
	if jsonErr != nil {
		if looksLikeXML(payload) {
			if res, err := normalizeXML(payload, sourceName, now); err == nil {
				return res, nil
			}
		}
		return FeedResult{}, fmt.Errorf("%w: %v", ErrMalformedPayload, jsonErr)
	}
	return NormalizeValue(root, sourceName, now)
}

// NormalizeValue maps an already decoded JSON document. Numbers may be
// float64 or json.Number.
func NormalizeValue(root any, sourceName string, now time.Time) (FeedResult, error) {
	for _, s := range shapes {
		if s.match(root) {
			p := parser{tag: s.tag, source: sourceName, now: now}
			return s.parse(p, root), nil
		}
	}
	return FeedResult{}, ErrUnsupportedShape
}

func matchNewsAPI(root any) bool {
	obj, ok := root.(map[string]any)
	return ok && obj["status"] == "ok" && isArray(obj["articles"])
}

func parseNewsAPI(p parser, root any) FeedResult {
	items := root.(map[string]any)["articles"].([]any)
	articles := make([]Article, 0, len(items))
	for i, raw := range items {
		item := asObject(raw)
		var category string
		if src, ok := item["source"].(map[string]any); ok {
			category = text(src["name"])
		}
		articles = append(articles, Article{
			ID:          p.id(i),
			Title:       titleOr(item["title"], i),
			Summary:     text(item["description"]),
			Link:        linkOr(item["url"]),
			PublishedAt: parseDate(item["publishedAt"], p.now),
			Category:    category,
			SourceName:  p.source,
		})
	}
	return FeedResult{Articles: articles, FeedTitle: p.defaultTitle(), FeedDescription: p.defaultDescription()}
}

func matchRSS2JSON(root any) bool {
	obj, ok := root.(map[string]any)
	return ok && obj["status"] == "ok" && isArray(obj["items"])
}

func parseRSS2JSON(p parser, root any) FeedResult {
	obj := root.(map[string]any)
	items := obj["items"].([]any)
	articles := make([]Article, 0, len(items))
	for i, raw := range items {
		item := asObject(raw)
		articles = append(articles, Article{
			ID:          p.id(i),
			Title:       titleOr(item["title"], i),
			Summary:     stripHTML(text(first(item, "description", "content"))),
			Link:        linkOr(item["link"]),
			PublishedAt: parseDate(item["pubDate"], p.now),
			Category:    headOf(item["categories"]),
			SourceName:  p.source,
		})
	}

	res := FeedResult{Articles: articles, FeedTitle: p.defaultTitle(), FeedDescription: p.defaultDescription()}
	if meta, ok := obj["feed"].(map[string]any); ok {
		if t := text(meta["title"]); t != "" {
			res.FeedTitle = t
		}
		if d := text(meta["description"]); d != "" {
			res.FeedDescription = d
		}
	}
	return res
}

func matchCurrents(root any) bool {
	obj, ok := root.(map[string]any)
	return ok && isArray(obj["news"])
}

func parseCurrents(p parser, root any) FeedResult {
	items := root.(map[string]any)["news"].([]any)
	articles := make([]Article, 0, len(items))
	for i, raw := range items {
		item := asObject(raw)
		articles = append(articles, Article{
			ID:          p.id(i),
			Title:       titleOr(first(item, "title", "headline"), i),
			Summary:     text(item["description"]),
			Link:        linkOr(item["url"]),
			PublishedAt: parseDate(item["published"], p.now),
			Category:    headOf(item["category"]),
			SourceName:  p.source,
		})
	}
	return FeedResult{Articles: articles, FeedTitle: p.defaultTitle(), FeedDescription: p.defaultDescription()}
}

func matchDaily(root any) bool {
	obj, ok := root.(map[string]any)
	if !ok || !isArray(obj["content"]) {
		return false
	}
	date, ok := obj["date"].(string)
	return ok && date != ""
}

func parseDaily(p parser, root any) FeedResult {
	obj := root.(map[string]any)
	date := obj["date"].(string)
	items := obj["content"].([]any)
	published := parseDate(date, p.now)

	articles := make([]Article, 0, len(items))
	for i, raw := range items {
		articles = append(articles, Article{
			ID:          p.id(i),
			Title:       text(raw),
			Link:        "#",
			PublishedAt: published,
			SourceName:  p.source,
		})
	}
	return FeedResult{
		Articles:        articles,
		FeedTitle:       p.defaultTitle(),
		FeedDescription: p.defaultDescription() + " - " + date,
	}
}

func matchGeneric(root any) bool {
	if isArray(root) {
		return true
	}
	obj, ok := root.(map[string]any)
	return ok && (isArray(obj["articles"]) || isArray(obj["data"]))
}

func parseGeneric(p parser, root any) FeedResult {
	var items []any
	obj, isObj := root.(map[string]any)
	switch {
	case !isObj:
		items = root.([]any)
	case isArray(obj["articles"]):
		items = obj["articles"].([]any)
	default:
		items = obj["data"].([]any)
	}

	articles := make([]Article, 0, len(items))
	for i, raw := range items {
		a := Article{ID: p.id(i), Link: "#", PublishedAt: p.now, SourceName: p.source}
		if s, ok := raw.(string); ok {
			a.Title = titleOr(s, i)
			articles = append(articles, a)
			continue
		}

		item := asObject(raw)
		if id := first(item, "id"); id != nil {
			a.ID = text(id)
		}
		a.Title = titleOr(first(item, "title", "headline", "name"), i)
		a.Summary = text(first(item, "summary", "description", "content", "excerpt"))
		a.Link = linkOr(first(item, "link", "url", "href"))
		a.Category = text(first(item, "category", "tag", "type"))
		a.PublishedAt = parseDate(first(item, "pubDate", "publishedAt", "date", "timestamp", "time"), p.now)
		articles = append(articles, a)
	}

	res := FeedResult{Articles: articles, FeedTitle: p.defaultTitle(), FeedDescription: p.defaultDescription()}
	if isObj {
		if t := text(first(obj, "title", "name")); t != "" {
			res.FeedTitle = t
		}
		if d := text(obj["description"]); d != "" {
			res.FeedDescription = d
		}
	}
	return res
}

func looksLikeXML(payload []byte) bool {
	trimmed := bytes.TrimLeftFunc(payload, unicode.IsSpace)
	return len(trimmed) > 0 && trimmed[0] == '<'
}

func normalizeXML(payload []byte, sourceName string, now time.Time) (FeedResult, error) {
	f, err := gofeed.NewParser().Parse(bytes.NewReader(payload))
	if err != nil {
		return FeedResult{}, err
	}

	p := parser{tag: "feed", source: sourceName, now: now}
	articles := make([]Article, 0, len(f.Items))
	for i, item := range f.Items {
		a := Article{
			ID:          p.id(i),
			Title:       titleOr(item.Title, i),
			Link:        linkOr(item.Link),
			PublishedAt: now,
			SourceName:  sourceName,
		}
		if item.GUID != "" {
			a.ID = strings.TrimSpace(item.GUID)
		}
		summary := item.Description
		if summary == "" {
			summary = item.Content
		}
		a.Summary = stripHTML(summary)
		switch {
		case item.PublishedParsed != nil:
			a.PublishedAt = *item.PublishedParsed
		case item.UpdatedParsed != nil:
			a.PublishedAt = *item.UpdatedParsed
		}
		if len(item.Categories) > 0 {
			a.Category = strings.TrimSpace(item.Categories[0])
		}
		articles = append(articles, a)
	}

	res := FeedResult{Articles: articles, FeedTitle: p.defaultTitle(), FeedDescription: p.defaultDescription()}
	if t := strings.TrimSpace(f.Title); t != "" {
		res.FeedTitle = t
	}
	if d := strings.TrimSpace(f.Description); d != "" {
		res.FeedDescription = stripHTML(d)
	}
	return res, nil
}

func isArray(v any) bool {
	_, ok := v.([]any)
	return ok
}

func asObject(v any) map[string]any {
	if obj, ok := v.(map[string]any); ok {
		return obj
	}
	return map[string]any{}
}

// first returns the first present value among keys that is not empty, zero
// or false.
func first(obj map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := obj[k]; ok && present(v) {
			return v
		}
	}
	return nil
}

func present(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return t != ""
	case bool:
		return t
	case json.Number:
		f, err := t.Float64()
		return err != nil || f != 0
	case float64:
		return t != 0
	default:
		return true
	}
}

// text coerces any JSON value to a trimmed string.
func text(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

func titleOr(v any, index int) string {
	if t := text(v); t != "" {
		return t
	}
	return fmt.Sprintf("News %d", index+1)
}

func linkOr(v any) string {
	if l := text(v); l != "" {
		return l
	}
	return "#"
}

// headOf returns the first element of an array, or the value itself when it
// is a scalar.
func headOf(v any) string {
	if arr, ok := v.([]any); ok {
		if len(arr) == 0 {
			return ""
		}
		return text(arr[0])
	}
	return text(v)
}

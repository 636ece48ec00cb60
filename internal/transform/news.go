package transform

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/seenimoa/stockagent/internal/frame"
	"github.com/seenimoa/stockagent/internal/marketdata"
)

// PublishedLayout is the human-readable timestamp format of published_at.
const PublishedLayout = "2006-01-02 15:04:05"

// NewsColumns is the column order of news.csv.
var NewsColumns = []string{"id", "text", "source", "ticker", "url", "published_at", "type", "provider_uuid"}

// NewsDocument is one news item prepared for retrieval.
type NewsDocument struct {
	ID       string
	Text     string
	Metadata NewsMetadata
}

// NewsMetadata describes where a document came from.
type NewsMetadata struct {
	Source       string
	Ticker       string
	URL          string
	PublishedAt  string
	Type         string
	ProviderUUID string
}

// Title returns the first line of the document text.
func (d NewsDocument) Title() string {
	title, _, _ := strings.Cut(d.Text, "\n")
	return title
}

// NewsDocuments converts provider news items into documents. Title, URL,
// publisher, date and type are resolved from the nested "content" shape
// first and the legacy flat shape second. Numeric timestamps become
// PublishedLayout strings in UTC. Items with neither a title nor a URL are
// skipped; every other item yields exactly one document, in input order.
func NewsDocuments(ticker string, items []marketdata.NewsItem) []NewsDocument {
	sym := strings.ToUpper(strings.TrimSpace(ticker))
	docs := make([]NewsDocument, 0, len(items))
	seen := make(map[string]bool, len(items))

	for i, it := range items {
		title, link := resolveTitle(it), resolveURL(it)
		if title == "" && link == "" {
			continue
		}

		text := title
		if text == "" {
			text = link
		}
		if summary := resolveSummary(it); summary != "" && summary != title {
			text += "\n\n" + summary
		}

		providerID := coalesce(contentField(it, func(c *marketdata.NewsContent) string { return c.ID }), it.ID, it.UUID)
		key := coalesce(link, title)
		id := uuid.NewSHA1(uuid.NameSpaceURL, []byte(key)).String()
		if seen[id] {
			id = uuid.NewSHA1(uuid.NameSpaceURL, []byte(key+"#"+strconv.Itoa(i))).String()
		}
		seen[id] = true

		docs = append(docs, NewsDocument{
			ID:   id,
			Text: text,
			Metadata: NewsMetadata{
				Source:       coalesce(contentField(it, providerName), it.Publisher),
				Ticker:       sym,
				URL:          link,
				PublishedAt:  resolvePublished(it),
				Type:         coalesce(contentField(it, func(c *marketdata.NewsContent) string { return c.ContentType }), it.Type),
				ProviderUUID: providerID,
			},
		})
	}
	return docs
}

// NewsFrame flattens documents into the news.csv table.
func NewsFrame(docs []NewsDocument) *frame.Frame {
	f := frame.New(NewsColumns...)
	for _, d := range docs {
		m := d.Metadata
		_ = f.AppendRow(
			frame.Str(d.ID), frame.Str(d.Text), frame.Str(m.Source), frame.Str(m.Ticker),
			frame.Str(m.URL), frame.Str(m.PublishedAt), frame.Str(m.Type), frame.Str(m.ProviderUUID),
		)
	}
	return f
}

// DocumentsFromFrame rebuilds documents from a news.csv table. Missing
// columns read as empty strings.
func DocumentsFromFrame(f *frame.Frame) []NewsDocument {
	docs := make([]NewsDocument, 0, f.Len())
	get := func(i int, col string) string { return f.At(i, col).Text() }
	for i := 0; i < f.Len(); i++ {
		docs = append(docs, NewsDocument{
			ID:   get(i, "id"),
			Text: get(i, "text"),
			Metadata: NewsMetadata{
				Source:       get(i, "source"),
				Ticker:       get(i, "ticker"),
				URL:          get(i, "url"),
				PublishedAt:  get(i, "published_at"),
				Type:         get(i, "type"),
				ProviderUUID: get(i, "provider_uuid"),
			},
		})
	}
	return docs
}

// --- Field resolution ---

func contentField(it marketdata.NewsItem, get func(*marketdata.NewsContent) string) string {
	if it.Content == nil {
		return ""
	}
	return strings.TrimSpace(get(it.Content))
}

func providerName(c *marketdata.NewsContent) string {
	if c.Provider == nil {
		return ""
	}
	return c.Provider.DisplayName
}

func resolveTitle(it marketdata.NewsItem) string {
	return strings.TrimSpace(coalesce(contentField(it, func(c *marketdata.NewsContent) string { return c.Title }), it.Title))
}

func resolveURL(it marketdata.NewsItem) string {
	canonical := contentField(it, func(c *marketdata.NewsContent) string {
		if c.CanonicalURL == nil {
			return ""
		}
		return c.CanonicalURL.URL
	})
	click := contentField(it, func(c *marketdata.NewsContent) string {
		if c.ClickThroughURL == nil {
			return ""
		}
		return c.ClickThroughURL.URL
	})
	return strings.TrimSpace(coalesce(canonical, click, it.Link))
}

func resolveSummary(it marketdata.NewsItem) string {
	return strings.TrimSpace(coalesce(
		contentField(it, func(c *marketdata.NewsContent) string { return c.Summary }),
		contentField(it, func(c *marketdata.NewsContent) string { return c.Description }),
		it.Summary,
	))
}

// resolvePublished prefers the nested date string, normalised when it is
// RFC 3339, then the legacy epoch seconds.
func resolvePublished(it marketdata.NewsItem) string {
	if s := coalesce(
		contentField(it, func(c *marketdata.NewsContent) string { return c.PubDate }),
		contentField(it, func(c *marketdata.NewsContent) string { return c.DisplayTime }),
	); s != "" {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t.UTC().Format(PublishedLayout)
		}
		return s
	}
	if it.ProviderPublishTime > 0 {
		return FormatEpoch(it.ProviderPublishTime)
	}
	return ""
}

// FormatEpoch renders epoch seconds as a PublishedLayout string in UTC.
func FormatEpoch(sec int64) string {
	return time.Unix(sec, 0).UTC().Format(PublishedLayout)
}

func coalesce(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

package marketdata

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
)

// NewsItem is one entry of Yahoo's news list. Yahoo has served two shapes:
// the legacy flat shape (title, link, publisher, providerPublishTime) and a
// newer one where everything sits under "content". Both decode into this
// struct; the transform layer resolves fields across them.
type NewsItem struct {
	ID                  string       `json:"id,omitempty"`
	UUID                string       `json:"uuid,omitempty"`
	Title               string       `json:"title,omitempty"`
	Publisher           string       `json:"publisher,omitempty"`
	Link                string       `json:"link,omitempty"`
	ProviderPublishTime int64        `json:"providerPublishTime,omitempty"`
	Type                string       `json:"type,omitempty"`
	Summary             string       `json:"summary,omitempty"`
	Content             *NewsContent `json:"content,omitempty"`
}

// NewsContent is the nested "content" shape.
type NewsContent struct {
	ID              string   `json:"id,omitempty"`
	ContentType     string   `json:"contentType,omitempty"`
	Title           string   `json:"title,omitempty"`
	Summary         string   `json:"summary,omitempty"`
	Description     string   `json:"description,omitempty"`
	PubDate         string   `json:"pubDate,omitempty"`
	DisplayTime     string   `json:"displayTime,omitempty"`
	Provider        *NewsRef `json:"provider,omitempty"`
	CanonicalURL    *NewsURL `json:"canonicalUrl,omitempty"`
	ClickThroughURL *NewsURL `json:"clickThroughUrl,omitempty"`
}

// NewsRef names the publisher in the nested shape.
type NewsRef struct {
	DisplayName string `json:"displayName,omitempty"`
}

// NewsURL is a link object in the nested shape.
type NewsURL struct {
	URL string `json:"url,omitempty"`
}

type yfSearchResponse struct {
	News []NewsItem `json:"news"`
}

// News returns recent news items for a ticker from the search API. When the
// search yields nothing and the RSS fallback is enabled, the ticker's
// headline feed is used instead.
func (c *Client) News(ctx context.Context, ticker string) ([]NewsItem, error) {
	sym, err := NormalizeTicker(ticker)
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("q", sym)
	q.Set("quotesCount", "0")
	q.Set("newsCount", fmt.Sprint(c.newsCount))
	u := fmt.Sprintf("%s/v1/finance/search?%s", c.query2, q.Encode())

	var resp yfSearchResponse
	if err := c.getJSON(ctx, u, &resp); err != nil {
		return nil, fmt.Errorf("yahoo news %s: %w", sym, err)
	}
	if len(resp.News) > 0 || !c.rssFallback {
		c.logger.Debug().Str("ticker", sym).Int("items", len(resp.News)).Msg("fetched news")
		return resp.News, nil
	}

	c.logger.Info().Str("ticker", sym).Msg("search returned no news, trying RSS headlines")
	return c.rssNews(ctx, sym)
}

// rssNews parses the ticker's headline feed and maps entries to the legacy
// flat item shape.
func (c *Client) rssNews(ctx context.Context, sym string) ([]NewsItem, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("s", sym)
	q.Set("region", "US")
	q.Set("lang", "en-US")
	feedURL := c.rssURL + "?" + q.Encode()

	parser := gofeed.NewParser()
	parser.Client = c.http
	parser.UserAgent = DefaultUserAgent
	feed, err := parser.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		return nil, fmt.Errorf("parse RSS %s: %w", feedURL, err)
	}

	items := make([]NewsItem, 0, len(feed.Items))
	for _, it := range feed.Items {
		n := NewsItem{
			UUID:      it.GUID,
			Title:     strings.TrimSpace(it.Title),
			Link:      it.Link,
			Publisher: coalesce(feedAuthor(it), feed.Title, "Yahoo Finance"),
			Type:      "STORY",
			Summary:   cleanHTML(it.Description),
		}
		if it.PublishedParsed != nil {
			n.ProviderPublishTime = it.PublishedParsed.Unix()
		}
		items = append(items, n)
	}
	c.logger.Debug().Str("ticker", sym).Int("items", len(items)).Msg("fetched RSS headlines")
	return items, nil
}

func feedAuthor(it *gofeed.Item) string {
	if it.Author != nil {
		return it.Author.Name
	}
	return ""
}

// cleanHTML strips HTML tags from a string using goquery.
func cleanHTML(s string) string {
	if s == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader("<body>" + s + "</body>"))
	if err != nil {
		return s
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}

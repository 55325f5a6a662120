// Package feeds fetches podcast RSS documents and turns them into episode
// descriptors for the discovery phase. Only RSS 2.0 with enclosures is
// supported; items without a usable guid or audio URL are skipped item by
// item, never failing the whole feed.
package feeds

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const userAgent = "podbrief/1.0 (+https://github.com/podbrief/podbrief)"

// maxFeedBytes bounds how much of a feed document is read. Podcast feeds
// with full back catalogs run a few MB; anything past this is hostile.
const maxFeedBytes = 32 << 20

// Item is one episode descriptor parsed out of a feed.
type Item struct {
	GUID            string
	Title           string
	AudioURL        string
	DurationSeconds int
	PublishedAt     time.Time
}

// Feed is a fetched and parsed podcast feed.
type Feed struct {
	Title string
	Items []Item
}

// Client fetches and parses podcast RSS feeds.
type Client struct {
	http *http.Client
}

// NewClient returns a feed client with the given per-fetch timeout.
func NewClient(timeout time.Duration) *Client {
	return &Client{
		http: &http.Client{Timeout: timeout},
	}
}

// rssDoc mirrors the subset of RSS 2.0 (+ itunes extensions) discovery needs.
type rssDoc struct {
	XMLName xml.Name `xml:"rss"`
	Channel struct {
		Title string    `xml:"title"`
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
}

type rssItem struct {
	Title     string `xml:"title"`
	GUID      string `xml:"guid"`
	PubDate   string `xml:"pubDate"`
	Duration  string `xml:"duration"` // itunes:duration
	Enclosure struct {
		URL  string `xml:"url,attr"`
		Type string `xml:"type,attr"`
	} `xml:"enclosure"`
}

// Fetch downloads and parses the feed at url.
func (c *Client) Fetch(ctx context.Context, url string) (*Feed, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create feed request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/rss+xml, application/xml, text/xml")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch feed: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes))
	if err != nil {
		return nil, fmt.Errorf("read feed body: %w", err)
	}

	return Parse(body)
}

// Parse decodes an RSS document into episode descriptors. Items missing a
// guid, audio enclosure, or parseable publication date are dropped.
func Parse(body []byte) (*Feed, error) {
	var doc rssDoc
	if err := xml.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("parse rss: %w", err)
	}

	feed := &Feed{Title: strings.TrimSpace(doc.Channel.Title)}
	for _, it := range doc.Channel.Items {
		item, ok := parseItem(it)
		if !ok {
			continue
		}
		feed.Items = append(feed.Items, item)
	}
	return feed, nil
}

func parseItem(it rssItem) (Item, bool) {
	guid := strings.TrimSpace(it.GUID)
	audioURL := strings.TrimSpace(it.Enclosure.URL)
	if audioURL == "" {
		return Item{}, false
	}
	// Some feeds omit <guid>; the enclosure URL is the next most stable key.
	if guid == "" {
		guid = audioURL
	}

	pub, err := parsePubDate(it.PubDate)
	if err != nil {
		return Item{}, false
	}

	return Item{
		GUID:            guid,
		Title:           strings.TrimSpace(it.Title),
		AudioURL:        audioURL,
		DurationSeconds: parseDuration(it.Duration),
		PublishedAt:     pub,
	}, true
}

// pubDateFormats covers the date styles seen in the wild. RFC 1123 variants
// dominate; a few feeds emit RFC 3339.
var pubDateFormats = []string{
	time.RFC1123Z,
	time.RFC1123,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
	time.RFC3339,
	"2006-01-02T15:04:05Z",
	"2006-01-02 15:04:05",
}

func parsePubDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, fmt.Errorf("empty pubDate")
	}
	for _, layout := range pubDateFormats {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized pubDate %q", raw)
}

// parseDuration accepts itunes:duration as plain seconds, MM:SS, or HH:MM:SS.
// Unparseable values yield 0; duration is advisory only.
func parseDuration(raw string) int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0
	}
	if !strings.Contains(raw, ":") {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return 0
		}
		return n
	}

	parts := strings.Split(raw, ":")
	if len(parts) > 3 {
		return 0
	}
	total := 0
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n < 0 {
			return 0
		}
		total = total*60 + n
	}
	return total
}

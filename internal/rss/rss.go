// Package rss renders the dynamic podcast feed. The document is a pure
// function of the published digest rows and the feed settings; nothing is
// materialized to disk.
package rss

import (
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/podbrief/podbrief/internal/database"
	"github.com/podbrief/podbrief/internal/settings"
)

const itunesNS = "http://www.itunes.com/dtds/podcast-1.0.dtd"

// channelCategory is fixed; everything else in the channel comes from settings.
const channelCategory = "Technology"

type document struct {
	XMLName xml.Name `xml:"rss"`
	Version string   `xml:"version,attr"`
	Itunes  string   `xml:"xmlns:itunes,attr"`
	Channel channel  `xml:"channel"`
}

type channel struct {
	Title         string   `xml:"title"`
	Description   string   `xml:"description"`
	Language      string   `xml:"language"`
	LastBuildDate string   `xml:"lastBuildDate"`
	Author        string   `xml:"itunes:author"`
	Summary       string   `xml:"itunes:summary"`
	Owner         owner    `xml:"itunes:owner"`
	Image         image    `xml:"itunes:image"`
	Category      category `xml:"itunes:category"`
	Explicit      string   `xml:"itunes:explicit"`
	Items         []item   `xml:"item"`
}

type owner struct {
	Name  string `xml:"itunes:name"`
	Email string `xml:"itunes:email"`
}

type image struct {
	Href string `xml:"href,attr"`
}

type category struct {
	Text string `xml:"text,attr"`
}

type item struct {
	Title       string    `xml:"title"`
	Description string    `xml:"description"`
	GUID        guid      `xml:"guid"`
	PubDate     string    `xml:"pubDate"`
	Duration    string    `xml:"itunes:duration"`
	Enclosure   enclosure `xml:"enclosure"`
}

type guid struct {
	IsPermaLink string `xml:"isPermaLink,attr"`
	Value       string `xml:",chardata"`
}

type enclosure struct {
	URL    string `xml:"url,attr"`
	Type   string `xml:"type,attr"`
	Length string `xml:"length,attr"`
}

// Build renders the feed document for the given published digests, newest
// first as passed in. Digests without an artifact URL are skipped; the
// caller normally filters them already.
func Build(digests []database.Digest, cfg *settings.RSS, now time.Time) ([]byte, error) {
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}

	doc := document{
		Version: "2.0",
		Itunes:  itunesNS,
		Channel: channel{
			Title:         cfg.ChannelTitle,
			Description:   cfg.ChannelDescription,
			Language:      "en-us",
			LastBuildDate: now.In(loc).Format(time.RFC1123Z),
			Author:        cfg.ChannelTitle,
			Summary:       cfg.ChannelDescription,
			Owner:         owner{Name: cfg.ChannelTitle, Email: cfg.OwnerEmail},
			Image:         image{Href: cfg.ImageURL},
			Category:      category{Text: channelCategory},
			Explicit:      "false",
		},
	}

	for _, d := range digests {
		if d.ArtifactURL == nil {
			continue
		}
		doc.Channel.Items = append(doc.Channel.Items, buildItem(d, loc))
	}

	body, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal rss: %w", err)
	}
	return append([]byte(xml.Header), body...), nil
}

func buildItem(d database.Digest, loc *time.Location) item {
	title := ""
	if d.MP3Title != nil {
		title = *d.MP3Title
	}
	if title == "" {
		title = FallbackTitle(d.Topic, d.DigestDate)
	}

	desc := ""
	if d.MP3Summary != nil {
		desc = *d.MP3Summary
	}
	if desc == "" {
		desc = fmt.Sprintf("Daily %s digest for %s.", d.Topic, d.DigestDate.Format("January 2, 2006"))
	}

	pub := ""
	if d.PublishedAt != nil {
		pub = d.PublishedAt.In(loc).Format(time.RFC1123Z)
	}

	length := "0"
	if d.MP3SizeBytes != nil {
		length = strconv.FormatInt(*d.MP3SizeBytes, 10)
	}

	dur := 0
	if d.MP3DurationSeconds != nil {
		dur = *d.MP3DurationSeconds
	}

	return item{
		Title:       title,
		Description: desc,
		GUID: guid{
			IsPermaLink: "false",
			Value:       fmt.Sprintf("%s-%s", Slugify(d.Topic), d.DigestDate.Format("2006-01-02")),
		},
		PubDate:  pub,
		Duration: formatDuration(dur),
		Enclosure: enclosure{
			URL:    *d.ArtifactURL,
			Type:   "audio/mpeg",
			Length: length,
		},
	}
}

// FallbackTitle is the deterministic title used when metadata generation
// failed or has not run.
func FallbackTitle(topic string, date time.Time) string {
	return fmt.Sprintf("%s Daily Digest - %s", topic, date.Format("January 2, 2006"))
}

// Slugify lowercases a topic name and collapses everything outside
// [a-z0-9] to single hyphens. Used for item guids and MP3 filenames.
func Slugify(name string) string {
	var b strings.Builder
	lastHyphen := true // trims leading hyphens
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	return strings.TrimRight(b.String(), "-")
}

// formatDuration renders seconds as HH:MM:SS.
func formatDuration(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d:%02d", seconds/3600, (seconds%3600)/60, seconds%60)
}

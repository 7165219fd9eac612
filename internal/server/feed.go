package server

import (
	"encoding/xml"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/bedtimestories/bedtime/internal/artifact"
	"github.com/bedtimestories/bedtime/internal/library"
)

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	data, err := buildFeed(requestBaseURL(r), s.stories.List())
	if err != nil {
		log.Printf("failed to build RSS feed: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/rss+xml; charset=utf-8")
	if _, err := w.Write(data); err != nil {
		log.Printf("failed to write RSS feed: %v", err)
	}
}

func requestBaseURL(r *http.Request) *url.URL {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if fwd := r.Header.Get("X-Forwarded-Proto"); fwd != "" {
		scheme = fwd
	}
	return &url.URL{Scheme: scheme, Host: r.Host}
}

// buildFeed renders an RSS 2.0 podcast feed of every narrated story.
func buildFeed(base *url.URL, entries []library.Entry) ([]byte, error) {
	feedURL := *base
	feedURL.Path = "/feed.xml"

	lastBuild := time.Time{}
	for _, e := range entries {
		if e.UpdatedAt.After(lastBuild) {
			lastBuild = e.UpdatedAt
		}
	}
	if lastBuild.IsZero() {
		lastBuild = time.Now().UTC()
	}

	rss := rssFeed{
		Version:  "2.0",
		AtomNS:   "http://www.w3.org/2005/Atom",
		ITunesNS: "http://www.itunes.com/dtds/podcast-1.0.dtd",
		Channel: rssChannel{
			Title:         "Bedtime Stories",
			Link:          base.String() + "/",
			Description:   "Illustrated and narrated bedtime stories for children.",
			Language:      "en",
			LastBuildDate: lastBuild.UTC().Format(time.RFC1123Z),
			Generator:     "bedtime",
			AtomLink: rssAtomLink{
				Href: feedURL.String(),
				Rel:  "self",
				Type: "application/rss+xml",
			},
		},
	}

	for _, e := range entries {
		if !e.HasAudio {
			continue
		}

		link := *base
		link.Path = path.Join("/story", e.Slug)
		enclosure := *base
		enclosure.Path = path.Join("/output", e.Slug, artifact.AudioFile)

		item := rssItem{
			Title:       e.Title,
			Link:        link.String(),
			GUID:        rssGUID{IsPermaLink: "false", Value: e.RelativePath},
			Description: e.Premise,
			Enclosure: rssEnclosure{
				URL:    enclosure.String(),
				Length: e.AudioSize,
				Type:   "audio/mpeg",
			},
			ITunesDuration: formatClock(e.Duration),
		}
		if !e.UpdatedAt.IsZero() {
			item.PubDate = e.UpdatedAt.UTC().Format(time.RFC1123Z)
		}
		if item.Description == "" {
			item.Description = fmt.Sprintf("A bedtime story in %d parts.", e.SegmentCount)
		}
		rss.Channel.Items = append(rss.Channel.Items, item)
	}

	output, err := xml.MarshalIndent(rss, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), output...), nil
}

func formatClock(seconds float64) string {
	if seconds <= 0 {
		return ""
	}
	total := int64(seconds + 0.5)
	hours := total / 3600
	minutes := (total % 3600) / 60
	secs := total % 60
	return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, secs)
}

type rssFeed struct {
	XMLName  xml.Name   `xml:"rss"`
	Version  string     `xml:"version,attr"`
	AtomNS   string     `xml:"xmlns:atom,attr"`
	ITunesNS string     `xml:"xmlns:itunes,attr"`
	Channel  rssChannel `xml:"channel"`
}

type rssChannel struct {
	Title         string      `xml:"title"`
	Link          string      `xml:"link"`
	Description   string      `xml:"description"`
	Language      string      `xml:"language,omitempty"`
	LastBuildDate string      `xml:"lastBuildDate"`
	Generator     string      `xml:"generator"`
	AtomLink      rssAtomLink `xml:"atom:link"`
	Items         []rssItem   `xml:"item"`
}

type rssAtomLink struct {
	Href string `xml:"href,attr"`
	Rel  string `xml:"rel,attr"`
	Type string `xml:"type,attr"`
}

type rssItem struct {
	Title          string       `xml:"title"`
	Link           string       `xml:"link"`
	GUID           rssGUID      `xml:"guid"`
	PubDate        string       `xml:"pubDate,omitempty"`
	Description    string       `xml:"description"`
	Enclosure      rssEnclosure `xml:"enclosure"`
	ITunesDuration string       `xml:"itunes:duration,omitempty"`
}

type rssGUID struct {
	IsPermaLink string `xml:"isPermaLink,attr"`
	Value       string `xml:",chardata"`
}

type rssEnclosure struct {
	URL    string `xml:"url,attr"`
	Length int64  `xml:"length,attr"`
	Type   string `xml:"type,attr"`
}

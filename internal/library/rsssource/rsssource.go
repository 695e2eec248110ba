// Package rsssource implements a library.Source over subscribed RSS/podcast
// feeds, resolving enclosure URLs into playable tracks without ever touching
// local disk.
package rsssource

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/denpa-radio/station/internal/library"
	"github.com/denpa-radio/station/internal/playlist"
)

const defaultFetchTimeout = 15 * time.Second

type rssDocument struct {
	XMLName xml.Name  `xml:"rss"`
	Channel rssChannel `xml:"channel"`
}

type rssChannel struct {
	Title string    `xml:"title"`
	Items []rssItem `xml:"item"`
}

type rssItem struct {
	Title     string      `xml:"title"`
	Enclosure rssEnclosure `xml:"enclosure"`
}

type rssEnclosure struct {
	URL  string `xml:"url,attr"`
	Type string `xml:"type,attr"`
}

type feed struct {
	name  string
	url   string
	limit int
}

// Source subscribes to a set of RSS feeds, each contributing its most recent
// items (bounded by its limit) as library tracks under its own playlist.
type Source struct {
	master *playlist.MasterPlaylist
	client *http.Client

	mu    sync.Mutex
	feeds map[string]*feed // keyed by URL
}

// New builds an RSS Source with no initial subscriptions; feeds are added
// via RSSAdd (typically from an admin endpoint) or restored from a snapshot.
func New(master *playlist.MasterPlaylist) *Source {
	return &Source{
		master: master,
		client: &http.Client{Timeout: defaultFetchTimeout},
		feeds:  make(map[string]*feed),
	}
}

func (s *Source) Name() string { return "rss" }

func (s *Source) Init(ctx context.Context) error   { return nil }
func (s *Source) Deinit(ctx context.Context) error { return nil }

func (s *Source) RegisterEvents(bus *library.ListenerBus) error { return nil }

func (s *Source) InitScan(ctx context.Context) error   { return s.refreshAll(ctx) }
func (s *Source) Rescan(ctx context.Context) error     { return s.refreshAll(ctx) }
func (s *Source) MetaRescan(ctx context.Context) error { return nil }
func (s *Source) FullRescan(ctx context.Context) error { return s.refreshAll(ctx) }

// RSSAdd subscribes to a feed, immediately fetching it once to populate the
// library.
func (s *Source) RSSAdd(ctx context.Context, name, url string, limit int) error {
	if limit <= 0 {
		limit = 25
	}
	f := &feed{name: name, url: url, limit: limit}
	s.mu.Lock()
	s.feeds[url] = f
	s.mu.Unlock()
	return s.refreshOne(ctx, f)
}

// RSSRemove unsubscribes a feed. Its already-imported tracks remain in the
// library until the next FullRescan purges them.
func (s *Source) RSSRemove(ctx context.Context, url string) error {
	s.mu.Lock()
	delete(s.feeds, url)
	s.mu.Unlock()
	return nil
}

// SnapshotRSS captures current subscriptions for restoration across a
// FullRescan's destructive wipe.
func (s *Source) SnapshotRSS(ctx context.Context) ([]library.RSSFeed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]library.RSSFeed, 0, len(s.feeds))
	for _, f := range s.feeds {
		out = append(out, library.RSSFeed{Name: f.name, URL: f.url, Limit: f.limit})
	}
	return out, nil
}

// RestoreRSS re-subscribes feeds captured by SnapshotRSS.
func (s *Source) RestoreRSS(ctx context.Context, feeds []library.RSSFeed) error {
	for _, rf := range feeds {
		if err := s.RSSAdd(ctx, rf.Name, rf.URL, rf.Limit); err != nil {
			return err
		}
	}
	return nil
}

func (s *Source) refreshAll(ctx context.Context) error {
	s.mu.Lock()
	feeds := make([]*feed, 0, len(s.feeds))
	for _, f := range s.feeds {
		feeds = append(feeds, f)
	}
	s.mu.Unlock()

	var firstErr error
	for _, f := range feeds {
		if err := s.refreshOne(ctx, f); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *Source) refreshOne(ctx context.Context, f *feed) error {
	items, err := s.fetch(ctx, f.url)
	if err != nil {
		return fmt.Errorf("rss: fetch %s: %w", f.url, err)
	}

	pl := s.findOrCreatePlaylist(f.name)
	count := 0
	for _, item := range items {
		if count >= f.limit {
			break
		}
		if item.Enclosure.URL == "" {
			continue
		}
		track := playlist.NewTrackFromURL(item.Enclosure.URL, item.Title, enclosureFormat(item.Enclosure.Type))
		canonical := s.master.Library.AddOrUpdate(track)
		if !pl.ContainsTrack(canonical.Checksum) {
			pl.AddTrack(canonical)
		}
		count++
	}
	return nil
}

func (s *Source) findOrCreatePlaylist(name string) *playlist.Playlist {
	for _, pl := range s.master.AllPlaylists() {
		if pl.Name == "rss:"+name {
			return pl
		}
	}
	tag, _ := s.master.ResolveActiveTag()
	pl := playlist.NewPlaylist("rss:"+name, tag)
	pl.SetLibrary(s.master.Library)
	_ = s.master.AssignPlaylist(tag, pl)
	return pl
}

func (s *Source) fetch(ctx context.Context, url string) ([]rssItem, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, err
	}

	var doc rssDocument
	if err := xml.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("parse rss: %w", err)
	}
	return doc.Channel.Items, nil
}

func enclosureFormat(mimeType string) string {
	switch mimeType {
	case "audio/mpeg", "audio/mp3":
		return "mp3"
	case "audio/ogg":
		return "ogg"
	case "audio/flac":
		return "flac"
	default:
		return "mp3"
	}
}

package rsssource

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/denpa-radio/station/internal/playlist"
)

func TestEnclosureFormat(t *testing.T) {
	tests := []struct {
		mime string
		want string
	}{
		{"audio/mpeg", "mp3"},
		{"audio/mp3", "mp3"},
		{"audio/ogg", "ogg"},
		{"audio/flac", "flac"},
		{"application/octet-stream", "mp3"},
		{"", "mp3"},
	}
	for _, tt := range tests {
		if got := enclosureFormat(tt.mime); got != tt.want {
			t.Errorf("enclosureFormat(%q) = %q, want %q", tt.mime, got, tt.want)
		}
	}
}

func TestFindOrCreatePlaylistReusesByName(t *testing.T) {
	master := playlist.NewMasterPlaylist()
	s := New(master)

	first := s.findOrCreatePlaylist("mypodcast")
	second := s.findOrCreatePlaylist("mypodcast")
	if first.ID != second.ID {
		t.Error("findOrCreatePlaylist should reuse an existing playlist with the same rss: name")
	}
	if first.Name != "rss:mypodcast" {
		t.Errorf("playlist name = %q, want %q", first.Name, "rss:mypodcast")
	}
}

const feedXML = `<?xml version="1.0"?>
<rss><channel>
<title>Test Feed</title>
<item>
  <title>Episode One</title>
  <enclosure url="https://cdn.example.com/ep1.mp3" type="audio/mpeg"/>
</item>
<item>
  <title>Episode Two</title>
  <enclosure url="https://cdn.example.com/ep2.mp3" type="audio/mpeg"/>
</item>
</channel></rss>`

func TestRSSAddFetchesAndPopulatesPlaylist(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		_, _ = w.Write([]byte(feedXML))
	}))
	defer srv.Close()

	master := playlist.NewMasterPlaylist()
	s := New(master)

	if err := s.RSSAdd(context.Background(), "myshow", srv.URL, 1); err != nil {
		t.Fatalf("RSSAdd: %v", err)
	}

	pl := s.findOrCreatePlaylist("myshow")
	if pl.Count() != 1 {
		t.Errorf("playlist Count() = %d, want 1 (limit should cap at 1)", pl.Count())
	}
	if master.Library.Count() != 1 {
		t.Errorf("library Count() = %d, want 1", master.Library.Count())
	}
}

func TestRSSRemoveDropsSubscriptionOnly(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(feedXML))
	}))
	defer srv.Close()

	master := playlist.NewMasterPlaylist()
	s := New(master)
	if err := s.RSSAdd(context.Background(), "myshow", srv.URL, 25); err != nil {
		t.Fatalf("RSSAdd: %v", err)
	}

	if err := s.RSSRemove(context.Background(), srv.URL); err != nil {
		t.Fatalf("RSSRemove: %v", err)
	}
	if _, ok := s.feeds[srv.URL]; ok {
		t.Error("RSSRemove should drop the subscription from s.feeds")
	}
	// Already-imported tracks survive removal.
	if master.Library.Count() != 2 {
		t.Errorf("library Count() after RSSRemove = %d, want 2 (tracks persist)", master.Library.Count())
	}
}

func TestSnapshotAndRestoreRSS(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(feedXML))
	}))
	defer srv.Close()

	master := playlist.NewMasterPlaylist()
	s := New(master)
	if err := s.RSSAdd(context.Background(), "myshow", srv.URL, 25); err != nil {
		t.Fatalf("RSSAdd: %v", err)
	}

	snap, err := s.SnapshotRSS(context.Background())
	if err != nil {
		t.Fatalf("SnapshotRSS: %v", err)
	}
	if len(snap) != 1 || snap[0].URL != srv.URL {
		t.Fatalf("SnapshotRSS = %+v, want one feed for %s", snap, srv.URL)
	}

	if err := s.RSSRemove(context.Background(), srv.URL); err != nil {
		t.Fatalf("RSSRemove: %v", err)
	}

	restored := New(master)
	if err := restored.RestoreRSS(context.Background(), snap); err != nil {
		t.Fatalf("RestoreRSS: %v", err)
	}
	if _, ok := restored.feeds[srv.URL]; !ok {
		t.Error("RestoreRSS should re-subscribe the snapshotted feed")
	}
}

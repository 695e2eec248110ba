// Package blobsource implements a library.Source backed by an Azure Blob
// Storage container: blobs are downloaded into a local cache directory and
// tracked the same way a filesystem source tracks local files.
package blobsource

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"

	"github.com/denpa-radio/station/internal/library"
	"github.com/denpa-radio/station/internal/playlist"
)

// Source mirrors the contents of an Azure Blob Storage container into a
// local cache directory, registering cached files as tracks the same way
// fssource registers local files.
type Source struct {
	containerURL string
	cacheDir     string
	master       *playlist.MasterPlaylist

	client *azblob.Client
}

// New builds a blob Source. containerURL is the full container URL (e.g.
// https://account.blob.core.windows.net/container); cacheDir is where blobs
// are downloaded to before being handed to the track scanner.
func New(containerURL, cacheDir string, master *playlist.MasterPlaylist) *Source {
	return &Source{containerURL: containerURL, cacheDir: cacheDir, master: master}
}

func (s *Source) Name() string { return "blob:" + s.containerURL }

func (s *Source) Init(ctx context.Context) error {
	if s.containerURL == "" {
		return fmt.Errorf("blobsource: container URL not configured")
	}
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return fmt.Errorf("blobsource: credential: %w", err)
	}
	client, err := azblob.NewClient(s.containerURL, cred, nil)
	if err != nil {
		return fmt.Errorf("blobsource: client: %w", err)
	}
	s.client = client
	return os.MkdirAll(s.cacheDir, 0o755)
}

func (s *Source) Deinit(ctx context.Context) error { return nil }

func (s *Source) RegisterEvents(bus *library.ListenerBus) error { return nil }

func (s *Source) InitScan(ctx context.Context) error   { return s.sync(ctx) }
func (s *Source) Rescan(ctx context.Context) error     { return s.sync(ctx) }
func (s *Source) MetaRescan(ctx context.Context) error { return nil }
func (s *Source) FullRescan(ctx context.Context) error { return s.sync(ctx) }

// sync lists every blob in the container, downloads any not already cached,
// and registers the cached path with the track library.
func (s *Source) sync(ctx context.Context) error {
	pager := s.client.NewListBlobsFlatPager(containerNameFromURL(s.containerURL), nil)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("blobsource: list page: %w", err)
		}
		for _, item := range page.Segment.BlobItems {
			if item.Name == nil {
				continue
			}
			name := *item.Name
			ext := strings.ToLower(filepath.Ext(name))
			if !playlist.IsSupportedFormat(ext) {
				continue
			}
			if err := s.ensureCached(ctx, name); err != nil {
				slog.Warn("blobsource: cache download failed", "blob", name, "error", err)
				continue
			}
		}
	}
	return nil
}

func (s *Source) ensureCached(ctx context.Context, blobName string) error {
	localPath := filepath.Join(s.cacheDir, filepath.FromSlash(blobName))
	if _, err := os.Stat(localPath); err == nil {
		track, err := playlist.NewTrackFromFile(localPath)
		if err != nil {
			return err
		}
		s.master.Library.AddOrUpdate(track)
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return err
	}

	f, err := os.Create(localPath)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = s.client.DownloadFile(ctx, containerNameFromURL(s.containerURL), blobName, f, nil)
	if err != nil {
		os.Remove(localPath)
		return err
	}

	track, err := playlist.NewTrackFromFile(localPath)
	if err != nil {
		return err
	}
	s.master.Library.AddOrUpdate(track)
	return nil
}

func containerNameFromURL(containerURL string) string {
	parts := strings.Split(strings.TrimSuffix(containerURL, "/"), "/")
	if len(parts) == 0 {
		return ""
	}
	return parts[len(parts)-1]
}

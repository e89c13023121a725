package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/storage"
	"golang.org/x/sync/errgroup"

	"github.com/Lllllllleong/signagedisplay/internal/config"
	"github.com/Lllllllleong/signagedisplay/internal/display"
	"github.com/Lllllllleong/signagedisplay/internal/gcp"
	"github.com/Lllllllleong/signagedisplay/internal/lifecycle"
	"github.com/Lllllllleong/signagedisplay/internal/rotation"
	"github.com/Lllllllleong/signagedisplay/internal/scroll"
	"github.com/Lllllllleong/signagedisplay/internal/server"
	"github.com/Lllllllleong/signagedisplay/internal/store"
)

const shutdownTimeout = 10 * time.Second

// DisplayService runs one signage display: the document watch feeding the session
// and the HTTP server the kiosk talks to.
type DisplayService struct {
	config          config.Config
	firestoreClient *firestore.Client
	storageClient   *storage.Client
	source          store.Source
	pages           *pageStore
	session         *display.Session
	httpServer      *http.Server
	closers         []func() error
}

func NewDisplay(ctx context.Context, cfg config.Config) (*DisplayService, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := slog.Default()
	d := &DisplayService{config: cfg}

	switch cfg.DocumentSource {
	case config.SourceFirestore:
		client, err := gcp.NewFirestoreClient(ctx, cfg.ProjectID, cfg.FirestoreDatabase)
		if err != nil {
			return nil, err
		}
		d.firestoreClient = client
		d.closers = append(d.closers, client.Close)
		d.source = store.NewFirestore(client, cfg.FirestoreCollection, logger)
	case config.SourcePostgres:
		db, err := store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		d.closers = append(d.closers, db.Close)
		pg := store.NewPostgres(db, cfg.PollInterval, logger)
		if err := pg.EnsureSchema(ctx); err != nil {
			d.Close()
			return nil, err
		}
		d.source = pg
	}

	if cfg.PageCacheBackend == config.BackendGCS {
		client, err := gcp.NewStorageClient(ctx)
		if err != nil {
			d.Close()
			return nil, err
		}
		d.storageClient = client
	} else {
		d.storageClient = gcp.OptionalStorageClient(ctx, logger)
	}
	if d.storageClient != nil {
		d.closers = append(d.closers, d.storageClient.Close)
	}

	pages, err := newPageStore(ctx, cfg, d.storageClient, logger)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("failed to create page cache: %w", err)
	}
	d.pages = pages
	d.closers = append(d.closers, pages.Close)

	pipeline, err := newPipeline(cfg, pages.service, d.storageClient, logger)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}

	loop := lifecycle.NewLoop()
	scrollOpts := scroll.DefaultOptions()
	scrollOpts.Speed = cfg.ScrollSpeed
	scrollOpts.Dwell = cfg.ScrollDwell
	scrollOpts.RestartDelay = cfg.RestartDelay
	d.session = display.New(loop, lifecycle.NewRealClock(loop, 0), pipeline, display.Options{
		Scroll:   scrollOpts,
		Rotation: rotation.Options{Interval: cfg.ClampedRotationInterval(), Playlist: cfg.Playlist},
	}, logger)

	srv := server.New(server.Options{
		Session:    d.session,
		Transients: pipeline.Transients(),
		Pages:      pages.pages,
		Clearer:    pages.clearer,
		Forget:     pipeline,
	}, logger)
	d.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	slog.Info("Display service initialized.",
		"addr", cfg.Addr,
		"documentSource", cfg.DocumentSource,
		"pageCache", cfg.PageCacheBackend,
		"rotationInterval", cfg.ClampedRotationInterval().String(),
		"playlist", cfg.Playlist,
	)
	return d, nil
}

// Run serves until ctx is cancelled or a component fails.
func (d *DisplayService) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("Display listening.", "addr", d.config.Addr)
		if err := d.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := d.session.Run(gctx, d.source); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("document watch failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		// Event streams only end when their surfaces close, so the session goes first.
		d.session.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := d.httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP shutdown failed.", "error", err)
		}
		return nil
	})
	return g.Wait()
}

func (d *DisplayService) Close() {
	if d.session != nil {
		d.session.Close()
	}
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			slog.Warn("Failed to close resource.", "error", err)
		}
	}
	d.closers = nil
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/Lllllllleong/signagedisplay/internal/services"
)

var (
	prerenderInstance *services.PrerenderFunction
	once              sync.Once
	initErr           error
)

func init() {
	// --- Structured logging, picked up by Cloud Logging as JSON ---
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Triggered by object-finalized events on the upload bucket.
	functions.CloudEvent("PrerenderPages", prerenderPages)
}

// main is required by the Go Functions Framework.
func main() {}

// prerenderPages is the Cloud Function entry point. It renders a freshly uploaded
// document into the page cache so displays never rasterize it themselves.
func prerenderPages(ctx context.Context, e cloudevents.Event) error {
	// Clients (storage, document records, redis manifest) are built once per instance
	// and reused across invocations.
	once.Do(func() {
		prerenderInstance, initErr = services.NewPrerender(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
		return initErr
	}

	var gcsEvent services.GCSEvent
	if err := json.Unmarshal(e.Data(), &gcsEvent); err != nil {
		slog.Error("Failed to unmarshal event data", "error", err, "data", string(e.Data()), "eventId", e.ID())
		return fmt.Errorf("json.Unmarshal: %w", err)
	}

	resp, err := prerenderInstance.Process(ctx, gcsEvent)
	if err != nil {
		// Already logged with context inside Process. Returning it marks the invocation
		// failed, so the event is redelivered and the upload retried.
		return err
	}

	// Skipped and permanently failed objects are acknowledged here too; their outcome
	// lives in the document record.
	slog.Debug("Prerender finished.", "status", resp.Status, "documentId", resp.DocumentID, "eventId", e.ID())
	return nil
}

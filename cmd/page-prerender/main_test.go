package main

import (
	"context"
	"testing"

	cloudevents "github.com/cloudevents/sdk-go/v2"
)

func TestPrerenderPagesReportsInitializationError(t *testing.T) {
	// The filesystem page cache is local to one display and cannot be warmed remotely.
	t.Setenv("PAGE_CACHE_BACKEND", "fs")

	e := cloudevents.NewEvent()
	e.SetID("evt-1")
	e.SetType("google.cloud.storage.object.v1.finalized")
	e.SetSource("//storage.googleapis.com/projects/_/buckets/uploads")
	if err := e.SetData(cloudevents.ApplicationJSON, map[string]string{"bucket": "uploads", "name": "plasa.pdf"}); err != nil {
		t.Fatal(err)
	}

	if err := prerenderPages(context.Background(), e); err == nil {
		t.Fatal("expected the initialization error to fail the invocation")
	}
	if prerenderInstance != nil {
		t.Error("no instance should be kept after a failed initialization")
	}
}

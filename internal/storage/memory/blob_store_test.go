package memory

import (
	"context"
	"testing"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte(`{"ids":[]}`)
	uri, err := store.PutObject(context.Background(), "results/s1/manifest.json", "application/json", payload)
	if err != nil {
		t.Fatalf("PutObject() error = %v", err)
	}
	if uri != "memory://results/s1/manifest.json" {
		t.Fatalf("unexpected uri %s", uri)
	}
	payload[0] = '['
	stored, contentType, ok := store.Object("results/s1/manifest.json")
	if !ok {
		t.Fatalf("object not stored")
	}
	if string(stored) != `{"ids":[]}` {
		t.Fatalf("expected stored copy to be immutable, got %q", stored)
	}
	if contentType != "application/json" {
		t.Fatalf("unexpected content type %q", contentType)
	}
}

func TestBlobStorePaths(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	for _, p := range []string{"conversions/s1/2.json", "results/s1/manifest.json", "conversions/s1/1.json"} {
		if _, err := store.PutObject(context.Background(), p, "", nil); err != nil {
			t.Fatalf("PutObject(%s) error = %v", p, err)
		}
	}
	got := store.Paths("conversions/")
	if len(got) != 2 || got[0] != "conversions/s1/1.json" || got[1] != "conversions/s1/2.json" {
		t.Fatalf("unexpected paths %v", got)
	}
	if _, err := store.PutObject(context.Background(), " ", "", nil); err == nil {
		t.Fatalf("expected error for blank path")
	}
}

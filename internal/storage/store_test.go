package storage

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"gocloud.dev/blob"
	"gocloud.dev/blob/memblob"

	"adstudio/internal/domain"
)

func newMemStore(t *testing.T) (*Store, *blob.Bucket) {
	t.Helper()
	bucket := memblob.OpenBucket(nil)
	store, err := New(bucket, "https://assets.example.com/")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store, bucket
}

func TestWriteReturnsPublicURL(t *testing.T) {
	store, bucket := newMemStore(t)
	ctx := context.Background()

	asset, err := store.Write(ctx, "/inputs/a b.png", []byte{0x89, 'P', 'N', 'G'}, "image/png")
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if asset.Key != "inputs/a b.png" {
		t.Fatalf("key = %q", asset.Key)
	}
	if want := "https://assets.example.com/inputs/a%20b.png"; asset.RemoteURL != want {
		t.Fatalf("url = %q, want %q", asset.RemoteURL, want)
	}
	data, err := bucket.ReadAll(ctx, asset.Key)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(data) != "\x89PNG" {
		t.Fatalf("unexpected data %q", data)
	}
	attrs, err := bucket.Attributes(ctx, asset.Key)
	if err != nil {
		t.Fatalf("attributes: %v", err)
	}
	if attrs.ContentType != "image/png" {
		t.Fatalf("content type = %q", attrs.ContentType)
	}
}

func TestWriteRejectsTraversal(t *testing.T) {
	store, _ := newMemStore(t)
	for _, key := range []string{"", "   ", "../secret", "a/../../b", "."} {
		if _, err := store.Write(context.Background(), key, []byte("x"), "text/plain"); err == nil {
			t.Fatalf("expected error for key %q", key)
		}
	}
}

func TestWriteFailureIsStorageWriteError(t *testing.T) {
	store, _ := newMemStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := store.Write(ctx, "inputs/x.png", []byte("x"), "image/png")
	if err == nil {
		t.Fatalf("expected error on cancelled context")
	}
	if !errors.Is(err, domain.ErrStorageWrite) {
		t.Fatalf("expected ErrStorageWrite, got %v", err)
	}
}

func TestUniqueKey(t *testing.T) {
	now := time.UnixMilli(1718000000000)
	a := UniqueKey("outputs/", ".webp", now)
	b := UniqueKey("outputs", "webp", now)
	if a == b {
		t.Fatalf("keys should differ: %q", a)
	}
	if !strings.HasPrefix(a, "outputs/1718000000000-") || !strings.HasSuffix(a, ".webp") {
		t.Fatalf("unexpected key %q", a)
	}
	if got := UniqueKey("", "", now); strings.Contains(got, "/") || strings.Contains(got, ".") {
		t.Fatalf("unexpected bare key %q", got)
	}
}

func TestExtensionFor(t *testing.T) {
	cases := map[string]string{
		"image/png":                 "png",
		"image/jpeg":                "jpg",
		"image/webp; charset=utf-8": "webp",
		"application/json":          "json",
		"":                          "bin",
		"application/vnd.foo+json":  "bin",
	}
	for in, want := range cases {
		if got := ExtensionFor(in); got != want {
			t.Fatalf("ExtensionFor(%q) = %q, want %q", in, got, want)
		}
	}
}

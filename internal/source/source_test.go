package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestNew(t *testing.T) {
	for _, tc := range []struct {
		ref      string
		wantHTTP bool
		wantErr  bool
	}{
		{ref: "/var/lib/epaper/frame.png"},
		{ref: "frame.bmp"},
		{ref: "http://example.com/a.png", wantHTTP: true},
		{ref: "https://example.com/a.png?token=x", wantHTTP: true},
		{ref: "", wantErr: true},
	} {
		src, err := New(tc.ref, t.TempDir())
		if (err != nil) != tc.wantErr {
			t.Fatalf("New(%q) error = %v, wantErr %v", tc.ref, err, tc.wantErr)
		}
		if err != nil {
			continue
		}
		if _, isHTTP := src.(*HTTP); isHTTP != tc.wantHTTP {
			t.Errorf("New(%q) = %T, wantHTTP %v", tc.ref, src, tc.wantHTTP)
		}
	}
}

func TestFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "frame.png")
	if err := os.WriteFile(path, []byte("data"), 0o600); err != nil {
		t.Fatal(err)
	}

	res, err := File(path).Fetch(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(res, Result{Body: []byte("data")}); diff != "" {
		t.Errorf("Fetch() difference (-got +want):\n%s", diff)
	}

	if _, err := File(path + ".missing").Fetch(context.Background()); err == nil {
		t.Error("Fetch() of missing file succeeded")
	}
}

func TestHTTPConditionalCache(t *testing.T) {
	var hits, notModified atomic.Int32
	fail := atomic.Bool{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if fail.Load() {
			http.Error(w, "down", http.StatusBadGateway)
			return
		}
		if r.Header.Get("If-None-Match") == `"v1"` {
			notModified.Add(1)
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write([]byte("image-v1"))
	}))
	defer srv.Close()

	src := NewHTTP(srv.URL+"/frame.png?token=secret", t.TempDir())
	ctx := context.Background()

	res, err := src.Fetch(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(res, Result{Body: []byte("image-v1")}); diff != "" {
		t.Errorf("first Fetch() difference (-got +want):\n%s", diff)
	}

	res, err = src.Fetch(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(res, Result{Body: []byte("image-v1"), FromCache: true}); diff != "" {
		t.Errorf("second Fetch() difference (-got +want):\n%s", diff)
	}
	if got := notModified.Load(); got != 1 {
		t.Errorf("server saw %d conditional hits, want 1", got)
	}

	fail.Store(true)
	res, err = src.Fetch(ctx)
	if err != nil {
		t.Fatalf("Fetch() with server error and cache = %v, want cached body", err)
	}
	if !res.FromCache || string(res.Body) != "image-v1" {
		t.Errorf("Fetch() = %+v, want cached image-v1", res)
	}
	if got := hits.Load(); got != 3 {
		t.Errorf("server hits = %d, want 3", got)
	}
}

func TestHTTPErrorWithoutCache(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	if _, err := NewHTTP(srv.URL, t.TempDir()).Fetch(context.Background()); err == nil {
		t.Error("Fetch() of 404 without cache succeeded")
	}
}

func TestRedactURL(t *testing.T) {
	for in, want := range map[string]string{
		"https://example.com/private/frame.png?token=abc": "https://example.com/...(redacted)",
		"http://10.0.0.2:8080/x":                          "http://10.0.0.2:8080/...(redacted)",
		"not a url":                                       "(redacted)",
	} {
		if got := redactURL(in); got != want {
			t.Errorf("redactURL(%q) = %q, want %q", in, got, want)
		}
	}
	if got := NewHTTP("https://h/p?k=v", "").String(); got != "https://h/...(redacted)" {
		t.Errorf("String() = %q", got)
	}
}

package comfy

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCookieSource_Empty(t *testing.T) {
	src := NewCookieSource("", "", nil)
	cookies, err := src.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if cookies != nil {
		t.Errorf("cookies = %v, want nil", cookies)
	}
}

func TestCookieSource_JSON(t *testing.T) {
	src := NewCookieSource(`{"session": "abc", "token": "xyz"}`, "", nil)
	cookies, err := src.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if cookies["session"] != "abc" || cookies["token"] != "xyz" {
		t.Errorf("cookies = %v", cookies)
	}
}

func TestCookieSource_KeyValueList(t *testing.T) {
	src := NewCookieSource("session=abc; token = xyz ;malformed", "", nil)
	cookies, err := src.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if cookies["session"] != "abc" {
		t.Errorf("session = %q", cookies["session"])
	}
	if cookies["token"] != "xyz" {
		t.Errorf("token = %q", cookies["token"])
	}
	if len(cookies) != 2 {
		t.Errorf("len = %d, want 2 (malformed pair skipped)", len(cookies))
	}
}

func TestCookieSource_RemoteURL(t *testing.T) {
	var gotAuth string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{"session": "remote"}`))
	}))
	defer ts.Close()

	src := NewCookieSource(ts.URL, "key-1", nil)
	cookies, err := src.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if cookies["session"] != "remote" {
		t.Errorf("cookies = %v", cookies)
	}
	if gotAuth != "Bearer key-1" {
		t.Errorf("Authorization = %q", gotAuth)
	}
}

func TestCookieSource_RemoteKeyValue(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("a=1; b=2\n"))
	}))
	defer ts.Close()

	src := NewCookieSource(ts.URL, "", nil)
	cookies, err := src.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if cookies["a"] != "1" || cookies["b"] != "2" {
		t.Errorf("cookies = %v", cookies)
	}
}

func TestCookieSource_ResolvesOnce(t *testing.T) {
	hits := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write([]byte(`{"n": "1"}`))
	}))
	defer ts.Close()

	src := NewCookieSource(ts.URL, "", nil)
	for i := 0; i < 3; i++ {
		if _, err := src.Resolve(context.Background()); err != nil {
			t.Fatalf("Resolve: %v", err)
		}
	}
	if hits != 1 {
		t.Errorf("remote fetched %d times, want 1", hits)
	}
}

func TestCookieSource_RemoteError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer ts.Close()

	src := NewCookieSource(ts.URL, "", nil)
	if _, err := src.Resolve(context.Background()); err == nil {
		t.Fatal("expected error for HTTP 403")
	}
}

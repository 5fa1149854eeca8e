package video

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestParseVimeoURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"https://vimeo.com/123456", "123456", true},
		{"https://www.vimeo.com/123456", "123456", true},
		{"http://vimeo.com/123456/abcdef0123", "123456", true},
		{"https://player.vimeo.com/video/987", "987", true},
		{"https://vimeo.com/channels/staffpicks/42", "42", true},
		{"https://vimeo.com/groups/dentists/videos/77", "77", true},
		{"  https://vimeo.com/5  ", "5", true},
		{"https://vimeo.com/", "", false},
		{"https://vimeo.com/abc", "", false},
		{"https://player.vimeo.com/123", "", false},
		{"https://evilvimeo.com/123", "", false},
		{"https://vimeo.com.evil.io/123", "", false},
		{"javascript:alert(1)//vimeo.com/1", "", false},
		{"ftp://vimeo.com/123", "", false},
		{"https://youtube.com/watch?v=1", "", false},
		{"https://vimeo.com/123456789012345678901", "", false},
	}
	for _, tt := range tests {
		got, err := ParseVimeoURL(tt.in)
		if tt.ok {
			if err != nil || got != tt.want {
				t.Errorf("ParseVimeoURL(%q) = %q, %v; want %q", tt.in, got, err, tt.want)
			}
			continue
		}
		if !errors.Is(err, ErrInvalidURL) {
			t.Errorf("ParseVimeoURL(%q) = %q, %v; want ErrInvalidURL", tt.in, got, err)
		}
	}
}

func TestEmbedURL(t *testing.T) {
	if got := EmbedURL("42"); got != "https://player.vimeo.com/video/42" {
		t.Fatalf("EmbedURL = %q", got)
	}
}

func TestMetadata(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "bearer tok" {
			t.Errorf("auth header = %q", r.Header.Get("Authorization"))
		}
		switch r.URL.Path {
		case "/videos/1":
			fmt.Fprint(w, `{"name":"Crown prep","duration":615,"privacy":{"view":"disable","embed":"whitelist"}}`)
		case "/videos/2":
			fmt.Fprint(w, `{"name":"Private","duration":10,"privacy":{"view":"nobody","embed":"private"}}`)
		case "/videos/3":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewClient("tok", WithAPIBase(srv.URL+"/"), WithHTTPClient(srv.Client()))
	ctx := context.Background()

	m, err := c.Metadata(ctx, "1")
	if err != nil {
		t.Fatal(err)
	}
	want := Metadata{ID: "1", Name: "Crown prep", Duration: 615, PrivacyView: "disable", PrivacyEmbed: "whitelist", Embeddable: true}
	if m != want {
		t.Fatalf("metadata = %+v", m)
	}

	m, err = c.Metadata(ctx, "2")
	if err != nil || m.Embeddable {
		t.Fatalf("private video: %+v %v", m, err)
	}
	if _, err := c.Metadata(ctx, "3"); err == nil {
		t.Fatal("expected upstream error")
	}
	if _, err := c.Metadata(ctx, "404"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing: %v", err)
	}
	if _, err := c.Metadata(ctx, "../users"); !errors.Is(err, ErrInvalidURL) {
		t.Fatalf("bad id: %v", err)
	}
}

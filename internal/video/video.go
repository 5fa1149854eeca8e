// Package video resolves Vimeo links into ids, embed URLs and API metadata.
package video

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/keithlinneman/dentalacademy/internal/xerrors"
)

var (
	ErrInvalidURL = errors.New("video: not a vimeo video url")
	ErrNotFound   = errors.New("video: not found")
)

const (
	DefaultAPIBase = "https://api.vimeo.com"
	playerBase     = "https://player.vimeo.com/video/"
	maxIDLen       = 20
	maxBody        = 1 << 20
)

func isID(s string) bool {
	if s == "" || len(s) > maxIDLen {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// ParseVimeoURL extracts the numeric video id from the link shapes Vimeo
// hands out: vimeo.com/123, player.vimeo.com/video/123,
// vimeo.com/channels/<name>/123 and vimeo.com/groups/<name>/videos/123.
func ParseVimeoURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") {
		return "", ErrInvalidURL
	}
	host := strings.ToLower(u.Hostname())
	segs := strings.FieldsFunc(u.Path, func(r rune) bool { return r == '/' })

	var id string
	switch host {
	case "player.vimeo.com":
		if len(segs) == 2 && segs[0] == "video" {
			id = segs[1]
		}
	case "vimeo.com", "www.vimeo.com":
		switch {
		case len(segs) == 1:
			id = segs[0]
		case len(segs) == 2 && isID(segs[0]):
			// unlisted links carry a privacy hash after the id
			id = segs[0]
		case len(segs) == 3 && segs[0] == "channels":
			id = segs[2]
		case len(segs) == 4 && segs[0] == "groups" && segs[2] == "videos":
			id = segs[3]
		}
	}
	if !isID(id) {
		return "", ErrInvalidURL
	}
	return id, nil
}

// EmbedURL is the player URL for id.
func EmbedURL(id string) string { return playerBase + id }

type Metadata struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Duration     int    `json:"duration"`
	PrivacyView  string `json:"privacyView"`
	PrivacyEmbed string `json:"privacyEmbed"`
	Embeddable   bool   `json:"embeddable"`
}

type Client struct {
	base  string
	token string
	hc    *http.Client
}

type Option func(*Client)

func WithAPIBase(base string) Option {
	return func(c *Client) { c.base = strings.TrimRight(base, "/") }
}

// WithHTTPClient replaces the instrumented default client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.hc = hc }
}

func NewClient(token string, opts ...Option) *Client {
	c := &Client{
		base:  DefaultAPIBase,
		token: token,
		hc: &http.Client{
			Timeout:   10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type apiVideo struct {
	Name     string `json:"name"`
	Duration int    `json:"duration"`
	Privacy  struct {
		View  string `json:"view"`
		Embed string `json:"embed"`
	} `json:"privacy"`
}

func (c *Client) Metadata(ctx context.Context, id string) (Metadata, error) {
	if !isID(id) {
		return Metadata{}, ErrInvalidURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/videos/"+id+"?fields=name,duration,privacy", nil)
	if err != nil {
		return Metadata{}, xerrors.Wrap(err, "video: build request")
	}
	req.Header.Set("Accept", "application/vnd.vimeo.*+json;version=3.4")
	if c.token != "" {
		req.Header.Set("Authorization", "bearer "+c.token)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return Metadata{}, xerrors.Wrap(err, "video: request metadata")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return Metadata{}, ErrNotFound
	case resp.StatusCode != http.StatusOK:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBody))
		return Metadata{}, xerrors.Newf("video: vimeo api status %d", resp.StatusCode)
	}

	var v apiVideo
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBody)).Decode(&v); err != nil {
		return Metadata{}, xerrors.Wrap(err, "video: decode metadata")
	}
	return Metadata{
		ID:           id,
		Name:         v.Name,
		Duration:     v.Duration,
		PrivacyView:  v.Privacy.View,
		PrivacyEmbed: v.Privacy.Embed,
		Embeddable:   embeddable(v.Privacy.Embed),
	}, nil
}

// embeddable reports whether the player may be framed by our site. "whitelist"
// means the owner restricted domains, which is how a private course video is set up.
func embeddable(embed string) bool {
	switch embed {
	case "public", "whitelist":
		return true
	}
	return false
}

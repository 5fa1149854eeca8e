package policy

import "strings"

// CSP holds structured directives. Empty slices are omitted from the header.
type CSP struct {
	DefaultSrc []string
	ScriptSrc  []string
	StyleSrc   []string
	ImgSrc     []string
	FontSrc    []string
	ConnectSrc []string
	FrameSrc   []string
	MediaSrc   []string
	ObjectSrc  []string
	BaseURI    []string
	FormAction []string
	FrameAnc   []string

	UpgradeInsecureRequests bool
}

// Origins the payment and video providers load from.
var (
	stripeScript  = []string{"https://js.stripe.com"}
	stripeFrame   = []string{"https://js.stripe.com", "https://hooks.stripe.com"}
	stripeConnect = []string{"https://api.stripe.com"}
	vimeoScript   = []string{"https://player.vimeo.com"}
	vimeoFrame    = []string{"https://player.vimeo.com"}
	vimeoConnect  = []string{"https://vimeo.com", "https://api.vimeo.com"}
	vimeoMedia    = []string{"https://i.vimeocdn.com", "https://f.vimeocdn.com"}
)

func defaultCSP(upgrade bool) CSP {
	self := "'self'"
	return CSP{
		DefaultSrc: []string{self},
		ScriptSrc:  join([]string{self}, stripeScript, vimeoScript),
		StyleSrc:   []string{self, "'unsafe-inline'"},
		ImgSrc:     join([]string{self, "data:"}, vimeoMedia),
		FontSrc:    []string{self},
		ConnectSrc: join([]string{self}, stripeConnect, vimeoConnect),
		FrameSrc:   join(stripeFrame, vimeoFrame),
		MediaSrc:   join([]string{self}, vimeoMedia),
		ObjectSrc:  []string{"'none'"},
		BaseURI:    []string{self},
		FormAction: []string{self},
		FrameAnc:   []string{"'none'"},

		UpgradeInsecureRequests: upgrade,
	}
}

func join(parts ...[]string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, p := range parts {
		for _, s := range p {
			if !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
	}
	return out
}

// String renders the header value with directives in a fixed order.
func (c CSP) String() string {
	directives := []struct {
		name   string
		values []string
	}{
		{"default-src", c.DefaultSrc},
		{"script-src", c.ScriptSrc},
		{"style-src", c.StyleSrc},
		{"img-src", c.ImgSrc},
		{"font-src", c.FontSrc},
		{"connect-src", c.ConnectSrc},
		{"frame-src", c.FrameSrc},
		{"media-src", c.MediaSrc},
		{"object-src", c.ObjectSrc},
		{"base-uri", c.BaseURI},
		{"form-action", c.FormAction},
		{"frame-ancestors", c.FrameAnc},
	}
	parts := make([]string, 0, len(directives)+1)
	for _, d := range directives {
		if len(d.values) > 0 {
			parts = append(parts, d.name+" "+strings.Join(d.values, " "))
		}
	}
	if c.UpgradeInsecureRequests {
		parts = append(parts, "upgrade-insecure-requests")
	}
	return strings.Join(parts, "; ")
}

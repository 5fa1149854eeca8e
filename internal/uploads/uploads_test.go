package uploads

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
)

func newTestUploader(t *testing.T) *Uploader {
	t.Helper()
	cfg := aws.Config{
		Region: "us-east-1",
		Credentials: aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
			return aws.Credentials{AccessKeyID: "AKIDTEST", SecretAccessKey: "secret"}, nil
		}),
	}
	u, err := New(context.Background(), Options{Bucket: "da-assets", AWSConfig: &cfg})
	if err != nil {
		t.Fatal(err)
	}
	u.newID = func() string { return "fixed-id" }
	return u
}

func TestPresign(t *testing.T) {
	u := newTestUploader(t)
	p, err := u.Presign(context.Background(), "user-1", "crown prep.png", "image/PNG")
	if err != nil {
		t.Fatal(err)
	}
	if p.Method != "PUT" {
		t.Fatalf("method = %s", p.Method)
	}
	if p.Key != "courses/user-1/fixed-id-crown-prep.png" {
		t.Fatalf("key = %s", p.Key)
	}
	parsed, err := url.Parse(p.URL)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(parsed.Host+parsed.Path, "da-assets") || !strings.HasSuffix(parsed.Path, "/fixed-id-crown-prep.png") {
		t.Fatalf("url = %s", p.URL)
	}
	if got := parsed.Query().Get("X-Amz-Expires"); got != "900" {
		t.Fatalf("X-Amz-Expires = %q", got)
	}
}

func TestPresignRejects(t *testing.T) {
	u := newTestUploader(t)
	ctx := context.Background()

	if _, err := u.Presign(ctx, "user-1", "../escape.png", "image/png"); !errors.Is(err, ErrFileName) {
		t.Fatalf("traversal: %v", err)
	}
	if _, err := u.Presign(ctx, "user-1", "dir/x.png", "image/png"); !errors.Is(err, ErrFileName) {
		t.Fatalf("separator: %v", err)
	}
	if _, err := u.Presign(ctx, "user-1", "x.html", "text/html"); !errors.Is(err, ErrContentType) {
		t.Fatalf("content type: %v", err)
	}
	if _, err := u.Presign(ctx, "..", "x.png", "image/png"); err == nil {
		t.Fatal("dot user id accepted")
	}
}

func TestKeyPrefix(t *testing.T) {
	cfg := aws.Config{Region: "us-east-1"}
	u, err := New(context.Background(), Options{Bucket: "b", Prefix: "/uploads/", AWSConfig: &cfg})
	if err != nil {
		t.Fatal(err)
	}
	u.newID = func() string { return "id" }
	if got := u.Key("u1", "a.pdf"); got != "uploads/courses/u1/id-a.pdf" {
		t.Fatalf("key = %s", got)
	}
}

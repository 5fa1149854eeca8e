// Package uploads hands out presigned S3 PUT URLs so clients upload course
// assets straight to the bucket.
package uploads

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/keithlinneman/dentalacademy/internal/log"
	"github.com/keithlinneman/dentalacademy/internal/pathutil"
	"github.com/keithlinneman/dentalacademy/internal/xerrors"
)

const DefaultExpiry = 15 * time.Minute

var (
	ErrFileName    = errors.New("uploads: invalid file name")
	ErrContentType = errors.New("uploads: content type not allowed")
)

// AllowedContentTypes are the asset types instructors may upload.
var AllowedContentTypes = map[string]bool{
	"image/jpeg":      true,
	"image/png":       true,
	"image/webp":      true,
	"application/pdf": true,
}

type Options struct {
	Logger log.Logger

	Bucket string
	// Prefix is prepended to every key, without a trailing slash.
	Prefix string
	Expiry time.Duration

	// AWS config (uses default if nil)
	AWSConfig *aws.Config
}

type Uploader struct {
	opts    Options
	presign *s3.PresignClient
	logger  log.Logger
	newID   func() string
}

// Presigned is a single-use upload target.
type Presigned struct {
	URL       string      `json:"url"`
	Method    string      `json:"method"`
	Key       string      `json:"key"`
	Headers   http.Header `json:"headers"`
	ExpiresAt time.Time   `json:"expiresAt"`
}

func New(ctx context.Context, opts Options) (*Uploader, error) {
	if opts.Bucket == "" {
		return nil, xerrors.New("Bucket is required")
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	if opts.Expiry <= 0 {
		opts.Expiry = DefaultExpiry
	}
	opts.Prefix = strings.Trim(opts.Prefix, "/")

	var awsCfg aws.Config
	var err error
	if opts.AWSConfig != nil {
		awsCfg = *opts.AWSConfig
	} else {
		awsCfg, err = config.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, xerrors.Wrap(err, "load AWS config")
		}
	}

	return &Uploader{
		opts:    opts,
		presign: s3.NewPresignClient(s3.NewFromConfig(awsCfg)),
		logger:  opts.Logger,
		newID:   uuid.NewString,
	}, nil
}

// Key is the object key for an upload by userID.
func (u *Uploader) Key(userID, fileName string) string {
	k := "courses/" + userID + "/" + u.newID() + "-" + fileName
	if u.opts.Prefix != "" {
		k = u.opts.Prefix + "/" + k
	}
	return k
}

func (u *Uploader) Presign(ctx context.Context, userID, fileName, contentType string) (*Presigned, error) {
	name, err := pathutil.SafeFileName(fileName)
	if err != nil {
		return nil, ErrFileName
	}
	if userID == "" || strings.ContainsAny(userID, `/\`) || pathutil.HasDotSegments(userID) {
		return nil, xerrors.Newf("uploads: bad user id %q", userID)
	}
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	if !AllowedContentTypes[contentType] {
		return nil, ErrContentType
	}

	key := u.Key(userID, name)
	req, err := u.presign.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.opts.Bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	}, s3.WithPresignExpires(u.opts.Expiry))
	if err != nil {
		return nil, xerrors.Wrapf(err, "presign s3://%s/%s", u.opts.Bucket, key)
	}

	u.logger.Info(ctx, "presigned upload", "bucket", u.opts.Bucket, "key", key, "user_id", userID)
	return &Presigned{
		URL:       req.URL,
		Method:    req.Method,
		Key:       key,
		Headers:   req.SignedHeader,
		ExpiresAt: time.Now().Add(u.opts.Expiry).UTC(),
	}, nil
}

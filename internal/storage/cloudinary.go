package storage

import (
	"context"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/cloudinary/cloudinary-go/v2/api"
)

// Cloudinary authorizes direct browser uploads to a Cloudinary account.
//
// Cloudinary accepts a signed request for up to an hour after its timestamp,
// so the slot TTL reported to clients is advisory for this backend.
type Cloudinary struct {
	cloud  string
	apiKey string
	secret string
	folder string
	ttl    time.Duration

	// Now is the clock; tests may replace it.
	Now func() time.Time
}

// NewCloudinary returns a backend uploading into folder.
func NewCloudinary(cloud, apiKey, secret, folder string, ttl time.Duration) *Cloudinary {
	return &Cloudinary{
		cloud:  cloud,
		apiKey: apiKey,
		secret: secret,
		folder: strings.Trim(folder, "/"),
		ttl:    ttl,
		Now:    time.Now,
	}
}

func (c *Cloudinary) publicID(key string) string {
	id := strings.TrimSuffix(key, path.Ext(key))
	if c.folder != "" {
		id = c.folder + "/" + id
	}
	return id
}

// PresignUpload signs the upload parameters for obj.
func (c *Cloudinary) PresignUpload(ctx context.Context, obj Object) (*Presigned, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !ValidKey(obj.Key) {
		return nil, ErrBadKey
	}
	now := c.Now()
	ts := strconv.FormatInt(now.Unix(), 10)
	params := url.Values{}
	params.Set("public_id", c.publicID(obj.Key))
	params.Set("timestamp", ts)

	sig, err := api.SignParameters(params, c.secret)
	if err != nil {
		return nil, err
	}
	return &Presigned{
		Method:    "POST",
		UploadURL: "https://api.cloudinary.com/v1_1/" + c.cloud + "/image/upload",
		Token:     sig,
		Fields: map[string]string{
			"api_key":   c.apiKey,
			"timestamp": ts,
			"public_id": params.Get("public_id"),
			"signature": sig,
		},
		PublicURL: c.PublicURL(obj.Key),
		ExpiresAt: now.Add(c.ttl),
	}, nil
}

func (c *Cloudinary) deliveryBase() string {
	return "https://res.cloudinary.com/" + c.cloud + "/image/upload/"
}

// PublicURL implements Store.
func (c *Cloudinary) PublicURL(key string) string {
	return c.deliveryBase() + c.publicID(key)
}

// Owns implements Store.
func (c *Cloudinary) Owns(rawURL string) bool {
	return strings.HasPrefix(rawURL, c.deliveryBase())
}

package storage

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// MediaPrefix is the URL path local uploads are served under.
const MediaPrefix = "/media/"

// UploadPath is the URL path clients PUT local uploads to.
const UploadPath = "/uploads/"

// UploadClaims are carried by a local upload token.
type UploadClaims struct {
	ContentType string `json:"ct"`
	MaxBytes    int64  `json:"max"`
	jwt.RegisteredClaims
}

// Local stores uploads on disk and authorizes them with short-lived HS256
// tokens bound to a single object key.
type Local struct {
	dir     string
	baseURL string
	secret  []byte
	ttl     time.Duration

	// Now is the clock; tests may replace it.
	Now func() time.Time
}

// NewLocal creates dir if needed. baseURL is the absolute origin of this
// service, e.g. "https://way.example".
func NewLocal(dir, baseURL string, secret []byte, ttl time.Duration) (*Local, error) {
	if len(secret) == 0 {
		return nil, errors.New("storage: upload token secret must not be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Local{
		dir:     dir,
		baseURL: strings.TrimRight(baseURL, "/"),
		secret:  secret,
		ttl:     ttl,
		Now:     time.Now,
	}, nil
}

// Dir is the root directory served under MediaPrefix.
func (l *Local) Dir() string { return l.dir }

// PresignUpload mints a token for obj valid for the configured TTL.
func (l *Local) PresignUpload(ctx context.Context, obj Object) (*Presigned, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !ValidKey(obj.Key) {
		return nil, ErrBadKey
	}
	now := l.Now()
	exp := now.Add(l.ttl)
	claims := UploadClaims{
		ContentType: obj.ContentType,
		MaxBytes:    obj.MaxBytes,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   obj.Key,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(l.secret)
	if err != nil {
		return nil, err
	}
	return &Presigned{
		Method:    "PUT",
		UploadURL: l.baseURL + UploadPath + obj.Key,
		Token:     signed,
		PublicURL: l.PublicURL(obj.Key),
		ExpiresAt: exp,
	}, nil
}

// PublicURL implements Store.
func (l *Local) PublicURL(key string) string { return l.baseURL + MediaPrefix + key }

// Owns implements Store.
func (l *Local) Owns(rawURL string) bool {
	return strings.HasPrefix(rawURL, l.baseURL+MediaPrefix) && ValidKey(strings.TrimPrefix(rawURL, l.baseURL+MediaPrefix))
}

// Verify checks that token authorizes an upload of key with contentType.
func (l *Local) Verify(token, key, contentType string) (*UploadClaims, error) {
	claims := &UploadClaims{}
	tkn, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return l.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(l.Now),
	)
	if err != nil || !tkn.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject != key {
		return nil, ErrKeyMismatch
	}
	if !strings.EqualFold(claims.ContentType, contentType) {
		return nil, ErrContentType
	}
	return claims, nil
}

// Save writes r to key exactly once, refusing more than maxBytes.
// A partial file is removed on any failure.
func (l *Local) Save(ctx context.Context, key string, r io.Reader, maxBytes int64) (n int64, err error) {
	if !ValidKey(key) {
		return 0, ErrBadKey
	}
	path := filepath.Join(l.dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if errors.Is(err, fs.ErrExist) {
		return 0, ErrExists
	}
	if err != nil {
		return 0, err
	}
	defer func() {
		cerr := f.Close()
		if err == nil {
			err = cerr
		}
		if err != nil {
			_ = os.Remove(path)
		}
	}()

	n, err = io.Copy(f, io.LimitReader(ctxReader{ctx, r}, maxBytes+1))
	if err != nil {
		return n, err
	}
	if n > maxBytes {
		return n, ErrTooLarge
	}
	if n == 0 {
		return 0, ErrEmpty
	}
	return n, nil
}

// StoredObject is one file found by ListOlderThan.
type StoredObject struct {
	Key     string
	ModTime time.Time
}

// ListOlderThan returns objects last modified before cutoff.
func (l *Local) ListOlderThan(ctx context.Context, cutoff time.Time) ([]StoredObject, error) {
	var out []StoredObject
	err := filepath.WalkDir(l.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(l.dir, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !ValidKey(key) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.ModTime().Before(cutoff) {
			out = append(out, StoredObject{Key: key, ModTime: info.ModTime()})
		}
		return nil
	})
	return out, err
}

// Delete removes key. Missing objects are not an error.
func (l *Local) Delete(_ context.Context, key string) error {
	if !ValidKey(key) {
		return ErrBadKey
	}
	err := os.Remove(filepath.Join(l.dir, filepath.FromSlash(key)))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// ctxReader stops a copy once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

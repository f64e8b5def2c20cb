package storage

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

var (
	// ErrURLExpired means the signed URL's deadline has passed.
	ErrURLExpired = errors.New("signed url expired")
	// ErrBadSignature means the signature does not match the path and
	// expiry, i.e. the URL was tampered with or signed with another key.
	ErrBadSignature = errors.New("signed url signature mismatch")
)

// URLSigner issues and verifies HMAC time-boxed download URLs. The
// signature covers the storage path and the expiry so neither can be
// altered independently.
type URLSigner struct {
	secret   []byte
	basePath string // URL prefix the artifact handler is mounted at
}

func NewURLSigner(secret, basePath string) *URLSigner {
	return &URLSigner{secret: []byte(secret), basePath: basePath}
}

// Sign produces <basePath>/<path>?expires=<unix>&sig=<hex>.
func (s *URLSigner) Sign(path string, expiresAt time.Time) string {
	expires := strconv.FormatInt(expiresAt.Unix(), 10)
	q := url.Values{}
	q.Set("expires", expires)
	q.Set("sig", s.mac(path, expires))
	return fmt.Sprintf("%s/%s?%s", s.basePath, path, q.Encode())
}

// Verify checks the signature and expiry for a path extracted from a
// download request.
func (s *URLSigner) Verify(path, expires, sig string, now time.Time) error {
	want := s.mac(path, expires)
	if !hmac.Equal([]byte(want), []byte(sig)) {
		return ErrBadSignature
	}
	deadline, err := strconv.ParseInt(expires, 10, 64)
	if err != nil {
		return ErrBadSignature
	}
	if now.Unix() > deadline {
		return ErrURLExpired
	}
	return nil
}

func (s *URLSigner) mac(path, expires string) string {
	h := hmac.New(sha256.New, s.secret)
	h.Write([]byte(path))
	h.Write([]byte{'\n'})
	h.Write([]byte(expires))
	return hex.EncodeToString(h.Sum(nil))
}

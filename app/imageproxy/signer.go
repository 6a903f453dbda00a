// Package imageproxy re-serves remote images through signed URLs so readers
// never contact image hosts directly.
package imageproxy

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ErrInvalidSignature is returned for missing, malformed or mismatched signatures.
var ErrInvalidSignature = errors.New("invalid image signature")

const DefaultPath = "/api/proxy/image"

// Signer issues and verifies proxy URLs with HMAC-SHA256 over the canonical
// image URL. The secret never changes after construction.
type Signer struct {
	secret   []byte
	basePath string
}

// NewSigner returns a signer producing URLs under basePath, which may carry
// a scheme and host when proxy URLs must be absolute.
func NewSigner(secret []byte, basePath string) *Signer {
	if basePath == "" {
		basePath = DefaultPath
	}
	return &Signer{
		secret:   append([]byte(nil), secret...),
		basePath: basePath,
	}
}

// Canonicalize lower-cases scheme and host, drops default ports and the
// fragment. Only absolute http(s) URLs are accepted.
func Canonicalize(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("invalid image url: %w", err)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("invalid image url: scheme %q is not http or https", u.Scheme)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("invalid image url: missing host")
	}

	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
		port = ""
	}
	if port != "" {
		u.Host = net.JoinHostPort(host, port)
	} else if strings.Contains(host, ":") {
		u.Host = "[" + host + "]"
	} else {
		u.Host = host
	}

	u.Fragment = ""
	u.RawFragment = ""
	return u.String(), nil
}

// ObjectID derives the image cache key from the canonical URL.
func ObjectID(canonical string) int64 {
	sum := sha256.Sum256([]byte(canonical))
	return int64(binary.BigEndian.Uint64(sum[:8]))
}

func (s *Signer) Sign(canonical string) string {
	return base64.RawURLEncoding.EncodeToString(s.mac(canonical))
}

func (s *Signer) Verify(canonical, signature string) error {
	sig, err := base64.RawURLEncoding.DecodeString(signature)
	if err != nil || len(sig) != sha256.Size {
		return ErrInvalidSignature
	}
	if !hmac.Equal(sig, s.mac(canonical)) {
		return ErrInvalidSignature
	}
	return nil
}

// ProxyURL returns the signed proxy URL for imageURL, or imageURL unchanged
// when it is not a proxyable http(s) URL.
func (s *Signer) ProxyURL(imageURL string) string {
	canonical, err := Canonicalize(imageURL)
	if err != nil {
		return imageURL
	}

	query := url.Values{}
	query.Set("url", base64.RawURLEncoding.EncodeToString([]byte(canonical)))
	query.Set("s", s.Sign(canonical))
	return s.basePath + "?" + query.Encode()
}

// Open decodes the url parameter of a proxy request and verifies its
// signature. Nothing is resolved or fetched before verification succeeds.
func (s *Signer) Open(encodedURL, signature string) (string, error) {
	if encodedURL == "" || signature == "" {
		return "", ErrInvalidSignature
	}

	raw, err := base64.RawURLEncoding.DecodeString(encodedURL)
	if err != nil {
		return "", ErrInvalidSignature
	}

	canonical := string(raw)
	if err := s.Verify(canonical, signature); err != nil {
		return "", err
	}
	return canonical, nil
}

func (s *Signer) mac(message string) []byte {
	h := hmac.New(sha256.New, s.secret)
	h.Write([]byte(message))
	return h.Sum(nil)
}

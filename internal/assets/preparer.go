// Package assets downloads creative images, normalises them for the
// moderation service and archives the normalised copy.
package assets

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"

	"creative-review-engine/internal/moderation"
	"creative-review-engine/internal/netguard"
)

var (
	ErrAssetTooLarge      = errors.New("assets: asset exceeds size limit")
	ErrAssetTooManyPixels = errors.New("assets: image exceeds pixel budget")
	ErrInvalidAssetURL    = errors.New("assets: asset url not allowed")
)

const maxRedirects = 5

type Config struct {
	MaxBytes        int64
	MaxEdge         int
	MaxPixels       int64
	DownloadTimeout time.Duration
	JPEGQuality     int

	// AllowPrivate permits loopback and private-network asset hosts.
	// Metadata endpoints stay blocked.
	AllowPrivate bool

	// Archive destination. Bucket wins over Dir; both empty disables archiving.
	Bucket    string
	Region    string
	Endpoint  string
	PathStyle bool
	Dir       string
}

// Archiver stores normalised assets and returns their URI.
type Archiver interface {
	Archive(ctx context.Context, key string, body []byte, contentType string) (string, error)
}

// Preparer turns an asset URL into moderation-ready bytes.
type Preparer struct {
	cfg      Config
	guard    netguard.Policy
	client   *http.Client
	archiver Archiver
}

func NewPreparer(ctx context.Context, cfg Config) (*Preparer, error) {
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 20 << 20
	}
	if cfg.MaxEdge <= 0 {
		cfg.MaxEdge = 1024
	}
	if cfg.MaxPixels <= 0 {
		cfg.MaxPixels = 50_000_000
	}
	if cfg.DownloadTimeout <= 0 {
		cfg.DownloadTimeout = 30 * time.Second
	}
	if cfg.JPEGQuality <= 0 {
		cfg.JPEGQuality = 85
	}

	var archiver Archiver
	switch {
	case cfg.Bucket != "":
		s3a, err := NewS3Archiver(ctx, cfg.Bucket, cfg.Region, cfg.Endpoint, cfg.PathStyle)
		if err != nil {
			return nil, err
		}
		archiver = s3a
	case cfg.Dir != "":
		archiver = &LocalArchiver{BaseDir: cfg.Dir}
	}

	guard := netguard.Policy{AllowPrivate: cfg.AllowPrivate, Resolver: netguard.DefaultResolver()}
	return &Preparer{
		cfg:   cfg,
		guard: guard,
		client: &http.Client{
			Timeout:   cfg.DownloadTimeout,
			Transport: guard.Transport(),
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("stopped after %d redirects", maxRedirects)
				}
				return guard.Validate(req.Context(), req.URL.String())
			},
		},
		archiver: archiver,
	}, nil
}

// CheckURL rejects asset URLs that point at loopback, private or metadata
// hosts. Hosts that fail to resolve pass; the download dial re-checks them.
func (p *Preparer) CheckURL(ctx context.Context, rawURL string) error {
	if err := p.guard.Validate(ctx, rawURL); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidAssetURL, err)
	}
	return nil
}

// WithArchiver replaces the archive destination.
func (p *Preparer) WithArchiver(a Archiver) *Preparer {
	p.archiver = a
	return p
}

// Prepare downloads c.AssetURL, downsizes images to MaxEdge and re-encodes
// them as JPEG. Content without an asset URL is returned unchanged. Non-image
// assets are passed through by URL only.
func (p *Preparer) Prepare(ctx context.Context, c moderation.Content) (moderation.Content, error) {
	if c.AssetURL == "" {
		return c, nil
	}
	if err := p.CheckURL(ctx, c.AssetURL); err != nil {
		return c, err
	}
	data, contentType, err := p.download(ctx, c.AssetURL)
	if err != nil {
		return c, err
	}

	// The header alone gives the dimensions; refuse before Decode allocates.
	hdr, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		if strings.HasPrefix(strings.ToLower(contentType), "image/") {
			return c, fmt.Errorf("decode asset: %w", err)
		}
		return c, nil
	}
	if px := int64(hdr.Width) * int64(hdr.Height); px > p.cfg.MaxPixels {
		return c, fmt.Errorf("%w (%dx%d > %d pixels)", ErrAssetTooManyPixels, hdr.Width, hdr.Height, p.cfg.MaxPixels)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return c, fmt.Errorf("decode asset: %w", err)
	}
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return c, errors.New("assets: image has no pixels")
	}
	if b.Dx() > p.cfg.MaxEdge || b.Dy() > p.cfg.MaxEdge {
		img = imaging.Fit(img, p.cfg.MaxEdge, p.cfg.MaxEdge, imaging.Lanczos)
	}

	buf := &bytes.Buffer{}
	if err := imaging.Encode(buf, img, imaging.JPEG, imaging.JPEGQuality(p.cfg.JPEGQuality)); err != nil {
		return c, fmt.Errorf("encode asset: %w", err)
	}
	c.Asset = buf.Bytes()
	c.AssetType = "image/jpeg"

	if p.archiver != nil {
		sum := sha256.Sum256(c.Asset)
		key := path.Join("creatives", sanitizeSegment(c.CreativeID), hex.EncodeToString(sum[:])+".jpg")
		uri, err := p.archiver.Archive(ctx, key, c.Asset, c.AssetType)
		if err != nil {
			return c, fmt.Errorf("archive asset: %w", err)
		}
		c.ArchivedURI = uri
	}
	return c, nil
}

func (p *Preparer) download(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download asset: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, "", fmt.Errorf("download asset: status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, p.cfg.MaxBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("read asset: %w", err)
	}
	if int64(len(body)) > p.cfg.MaxBytes {
		return nil, "", fmt.Errorf("%w (>%d bytes)", ErrAssetTooLarge, p.cfg.MaxBytes)
	}
	return body, resp.Header.Get("Content-Type"), nil
}

func sanitizeSegment(s string) string {
	s = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		}
		return '_'
	}, s)
	s = strings.Trim(s, ".")
	if s == "" {
		return "unknown"
	}
	return s
}

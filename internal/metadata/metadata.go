// Package metadata describes a media URL and builds the link of the external
// download service for it.
package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"dvzoll/internal/config"
	"dvzoll/internal/entity"
	"dvzoll/internal/errs"
	"dvzoll/internal/observability"
	"dvzoll/internal/platform"

	"golang.org/x/time/rate"
)

const (
	unknown        = "Unknown"
	redirectMethod = "redirect"
	// maxOEmbedBody bounds the oEmbed response read.
	maxOEmbedBody = 1 << 20
)

// Request is the body of the metadata endpoint.
type Request struct {
	URL     string `json:"url"`
	Mode    string `json:"mode"`
	Quality string `json:"quality"`
}

// Response is the successful answer of the metadata endpoint.
type Response struct {
	Success  bool            `json:"success"`
	Metadata entity.Metadata `json:"metadata"`
	Download entity.Redirect `json:"download"`
}

// Service resolves metadata and redirect links.
type Service struct {
	log     *slog.Logger
	cfg     config.Metadata
	client  *http.Client
	limiter *rate.Limiter
	metrics *observability.Metrics
}

// New creates the metadata service. A nil client uses one with cfg.Timeout.
func New(log *slog.Logger, cfg config.Metadata, client *http.Client, metrics *observability.Metrics) *Service {
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}

	limit := rate.Inf
	if cfg.RPS > 0 {
		limit = rate.Limit(cfg.RPS)
	}

	return &Service{
		log:     log.With(slog.String("package", "metadata")),
		cfg:     cfg,
		client:  client,
		limiter: rate.NewLimiter(limit, max(cfg.Burst, 1)),
		metrics: metrics,
	}
}

// Validate checks req in the order the endpoint reports problems and returns
// the allow-listed platform.
func (s *Service) Validate(req Request) (entity.Platform, error) {
	if req.URL == "" || (s.cfg.MaxURLLength > 0 && len(req.URL) > s.cfg.MaxURLLength) {
		return "", errs.ErrInvalidURL
	}

	if !entity.Mode(req.Mode).Valid() {
		return "", errs.ErrInvalidMode
	}

	p, ok := platform.Allowed(req.URL)
	if !ok {
		return "", errs.ErrUnsupportedPlatform
	}

	return p, nil
}

// Resolve validates req and builds the metadata and the redirect.
func (s *Service) Resolve(ctx context.Context, req Request) (Response, error) {
	p, err := s.Validate(req)
	if err != nil {
		return Response{}, err
	}

	mode := entity.Mode(req.Mode)
	log := s.log.With(slog.String("platform", string(p)), slog.String("mode", req.Mode), slog.String("url", req.URL))

	meta := entity.Metadata{
		Title:    platform.DisplayName(p) + " Media",
		Author:   unknown,
		Platform: p,
	}

	if p == entity.PlatformYouTube {
		meta = s.youTube(ctx, req.URL)
	}

	resp := Response{
		Success:  true,
		Metadata: meta,
		Download: entity.Redirect{
			URL:          s.RedirectURL(req.URL),
			Method:       redirectMethod,
			Platform:     p,
			Instructions: fmt.Sprintf("Open the link to download via Cobalt Tools. Select %s quality.", req.Quality),
			QualityInfo:  platform.Info(mode, req.Quality),
		},
	}

	log.InfoContext(ctx, "redirect built", slog.String("title", meta.Title))

	return resp, nil
}

// RedirectURL returns the link of the external service for raw, which
// receives the source URL in the fragment.
func (s *Service) RedirectURL(raw string) string {
	return s.cfg.RedirectBase + "#" + escapeComponent(raw)
}

type oEmbed struct {
	Title        string `json:"title"`
	AuthorName   string `json:"author_name"`
	ThumbnailURL string `json:"thumbnail_url"`
}

// youTube looks raw up through oEmbed. Any failure, including a spent rate
// budget, yields the generic metadata.
func (s *Service) youTube(ctx context.Context, raw string) entity.Metadata {
	fallback := entity.Metadata{Title: "Media", Author: unknown, Platform: entity.PlatformYouTube}
	log := s.log.With(slog.String("func", "youTube"))

	if !s.limiter.Allow() {
		s.metrics.RecordMetadataLookup("limited")
		log.WarnContext(ctx, "oembed rate budget spent")

		return fallback
	}

	data, err := s.fetchOEmbed(ctx, raw)
	if err != nil {
		s.metrics.RecordMetadataLookup("error")
		log.WarnContext(ctx, "oembed fetch failed", slog.Any("error", err))

		return fallback
	}

	s.metrics.RecordMetadataLookup("ok")

	meta := entity.Metadata{
		Title:     data.Title,
		Author:    data.AuthorName,
		Thumbnail: data.ThumbnailURL,
		Platform:  entity.PlatformYouTube,
	}

	if meta.Title == "" {
		meta.Title = unknown
	}

	if meta.Author == "" {
		meta.Author = unknown
	}

	return meta
}

func (s *Service) fetchOEmbed(ctx context.Context, raw string) (oEmbed, error) {
	q := url.Values{}
	q.Set("url", raw)
	q.Set("format", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.OEmbedURL+"?"+q.Encode(), nil)
	if err != nil {
		return oEmbed{}, fmt.Errorf("new request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return oEmbed{}, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)

		return oEmbed{}, fmt.Errorf("bad status: %s", resp.Status)
	}

	var data oEmbed
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxOEmbedBody)).Decode(&data); err != nil {
		return oEmbed{}, fmt.Errorf("decode oembed: %w", err)
	}

	return data, nil
}

// escapeComponent escapes s like a URI component: everything except
// A-Z a-z 0-9 - _ . ! ~ * ' ( ) is percent-encoded.
func escapeComponent(s string) string {
	escaped := strings.ReplaceAll(url.QueryEscape(s), "+", "%20")

	return strings.NewReplacer(
		"%21", "!",
		"%27", "'",
		"%28", "(",
		"%29", ")",
		"%2A", "*",
	).Replace(escaped)
}

package pdf

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/spherical/takeoff/internal/cache"
	"github.com/spherical/takeoff/internal/domain"
	"github.com/spherical/takeoff/internal/observability"
)

// CachedSource memoizes another PageSource by document content. Page sets
// are stored msgpack-encoded.
type CachedSource struct {
	source  domain.PageSource
	cache   cache.Client
	variant string
	ttl     time.Duration
	logger  *observability.Logger
}

// NewCachedSource wraps source. variant distinguishes render settings that
// change the output for the same bytes, such as the DPI.
func NewCachedSource(source domain.PageSource, c cache.Client, variant string, ttl time.Duration, logger *observability.Logger) *CachedSource {
	if logger == nil {
		logger = observability.Nop()
	}
	return &CachedSource{
		source:  source,
		cache:   c,
		variant: variant,
		ttl:     ttl,
		logger:  logger.WithComponent("pdf_cache"),
	}
}

// Pages returns the cached page set for file or renders and stores it.
// Cache failures fall through to the wrapped source.
func (s *CachedSource) Pages(ctx context.Context, file domain.UploadedFile) ([]domain.PageImage, error) {
	data, err := file.ReadAll()
	if err != nil {
		return nil, err
	}
	key := s.key(data)

	if raw, err := s.cache.Get(ctx, key); err == nil {
		var pages []domain.PageImage
		if err := msgpack.Unmarshal(raw, &pages); err == nil {
			s.logger.Debug().Str("key", key).Int("pages", len(pages)).Msg("page cache hit")
			return pages, nil
		}
		s.logger.Warn().Str("key", key).Msg("discarding undecodable cache entry")
		_ = s.cache.Delete(ctx, key)
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		s.logger.Warn().Err(err).Msg("page cache lookup failed")
	}

	pages, err := s.source.Pages(ctx, file)
	if err != nil {
		return nil, err
	}

	raw, err := msgpack.Marshal(pages)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to encode pages for cache")
		return pages, nil
	}
	if err := s.cache.Set(ctx, key, raw, s.ttl); err != nil {
		s.logger.Warn().Err(err).Msg("failed to store pages in cache")
	}
	return pages, nil
}

func (s *CachedSource) key(data []byte) string {
	sum := sha256.Sum256(data)
	return cache.Key("pages", hex.EncodeToString(sum[:]), s.variant)
}

package ocr

import (
	"context"
	"encoding/binary"
	"image"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/sync/singleflight"
)

// DetectionCacheTTL is the default lifetime of cached detections.
const DetectionCacheTTL = 5 * time.Minute

// SharedDetectTimeout bounds a detection that outlives the caller that
// started it.
const SharedDetectTimeout = 2 * time.Minute

// CachedDetector memoizes detections by image content and collapses
// concurrent detections of the same image into one engine call.
type CachedDetector struct {
	inner   Detector
	cache   *ttlcache.Cache[uint64, []TextRegion]
	sfGroup singleflight.Group
	logger  *slog.Logger

	hits   atomic.Uint64
	misses atomic.Uint64
	sfHits atomic.Uint64
}

// CacheStats is a snapshot of the detector cache counters.
type CacheStats struct {
	Hits             uint64 `json:"hits"`
	Misses           uint64 `json:"misses"`
	SingleflightHits uint64 `json:"singleflight_hits"`
}

func NewCachedDetector(inner Detector, ttl time.Duration, logger *slog.Logger) *CachedDetector {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = DetectionCacheTTL
	}
	cache := ttlcache.New(
		ttlcache.WithTTL[uint64, []TextRegion](ttl),
	)
	go cache.Start()
	return &CachedDetector{inner: inner, cache: cache, logger: logger}
}

func (c *CachedDetector) Detect(ctx context.Context, img image.Image) ([]TextRegion, error) {
	key := imageKey(img)

	if item := c.cache.Get(key); item != nil {
		c.hits.Add(1)
		c.logger.Debug("ocr.cache.hit", "key", key)
		return cloneRegions(item.Value()), nil
	}

	// The engine call is detached from the caller that happened to start it,
	// so one caller's deadline or disconnect never fails the others.
	ch := c.sfGroup.DoChan(keyString(key), func() (any, error) {
		c.misses.Add(1)
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), SharedDetectTimeout)
		defer cancel()
		regions, err := c.inner.Detect(dctx, img)
		if err != nil {
			return nil, err
		}
		c.cache.Set(key, regions, ttlcache.DefaultTTL)
		return regions, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			c.sfHits.Add(1)
			c.logger.Debug("ocr.cache.singleflight_hit", "key", key)
		}
		return cloneRegions(res.Val.([]TextRegion)), nil
	}
}

func (c *CachedDetector) Stats() CacheStats {
	return CacheStats{
		Hits:             c.hits.Load(),
		Misses:           c.misses.Load(),
		SingleflightHits: c.sfHits.Load(),
	}
}

// Close stops the cache janitor.
func (c *CachedDetector) Close() {
	c.cache.Stop()
}

func cloneRegions(in []TextRegion) []TextRegion {
	if in == nil {
		return nil
	}
	out := make([]TextRegion, len(in))
	copy(out, in)
	return out
}

func keyString(k uint64) string {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], k)
	return string(b[:])
}

// imageKey hashes the bounds and pixel content of img.
func imageKey(img image.Image) uint64 {
	h := xxhash.New()
	b := img.Bounds()
	var dims [16]byte
	binary.BigEndian.PutUint32(dims[0:], uint32(b.Min.X))
	binary.BigEndian.PutUint32(dims[4:], uint32(b.Min.Y))
	binary.BigEndian.PutUint32(dims[8:], uint32(b.Dx()))
	binary.BigEndian.PutUint32(dims[12:], uint32(b.Dy()))
	_, _ = h.Write(dims[:])

	switch m := img.(type) {
	case *image.Gray:
		_, _ = h.WriteString("gray|")
		_, _ = h.Write(m.Pix)
	case *image.RGBA:
		_, _ = h.WriteString("rgba|")
		_, _ = h.Write(m.Pix)
	case *image.NRGBA:
		_, _ = h.WriteString("nrgba|")
		_, _ = h.Write(m.Pix)
	default:
		_, _ = h.WriteString("any|")
		var px [8]byte
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				r, g, bl, a := img.At(x, y).RGBA()
				binary.BigEndian.PutUint16(px[0:], uint16(r))
				binary.BigEndian.PutUint16(px[2:], uint16(g))
				binary.BigEndian.PutUint16(px[4:], uint16(bl))
				binary.BigEndian.PutUint16(px[6:], uint16(a))
				_, _ = h.Write(px[:])
			}
		}
	}
	return h.Sum64()
}

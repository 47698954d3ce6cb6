package ocr

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"slices"
	"strconv"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/saiset-co/sai-cache/strategy"
	"github.com/saiset-co/sai-cache/types"
)

// CachedDetector puts a provider behind the strategy cache. Text results go
// to the ocr category and preprocessed images to the image category, both
// keyed by a digest of the image bytes.
type CachedDetector struct {
	provider Provider
	strategy *strategy.Manager
	logger   types.Logger
	group    singleflight.Group
}

var _ Provider = (*CachedDetector)(nil)

func NewCachedDetector(provider Provider, strategy *strategy.Manager, logger types.Logger) *CachedDetector {
	return &CachedDetector{
		provider: provider,
		strategy: strategy,
		logger:   logger,
	}
}

func (d *CachedDetector) ID() string {
	return d.provider.ID()
}

func (d *CachedDetector) DetectText(ctx context.Context, image []byte, opts types.DetectOptions) ([]types.TextArea, error) {
	if len(image) == 0 {
		return nil, types.ErrOCRImageEmpty
	}

	key := d.detectKey(image, opts)

	value, err, _ := d.group.Do("detect:"+key, func() (interface{}, error) {
		return strategy.Exec(d.strategy, key, types.CategoryOCR, func() ([]types.TextArea, error) {
			d.logger.Debug("OCR cache miss", zap.String("provider", d.provider.ID()), zap.String("key", key))
			areas, err := d.provider.DetectText(ctx, image, opts)
			return slices.Clone(areas), err
		})
	})
	if err != nil {
		return nil, err
	}

	// Callers own the returned areas; the cached slice is never handed out.
	return slices.Clone(value.([]types.TextArea)), nil
}

func (d *CachedDetector) PreprocessImage(ctx context.Context, image []byte) ([]byte, error) {
	if len(image) == 0 {
		return nil, types.ErrOCRImageEmpty
	}

	key := d.provider.ID() + ":" + digest(image)

	value, err, _ := d.group.Do("preprocess:"+key, func() (interface{}, error) {
		return strategy.Exec(d.strategy, key, types.CategoryImage, func() ([]byte, error) {
			processed, err := d.provider.PreprocessImage(ctx, image)
			return bytes.Clone(processed), err
		})
	})
	if err != nil {
		return nil, err
	}

	return bytes.Clone(value.([]byte)), nil
}

// Invalidate drops the cached text result for image and opts.
func (d *CachedDetector) Invalidate(image []byte, opts types.DetectOptions) bool {
	return d.strategy.SmartRemove(d.detectKey(image, opts), types.CategoryOCR)
}

func (d *CachedDetector) Terminate() error {
	return d.provider.Terminate()
}

func (d *CachedDetector) detectKey(image []byte, opts types.DetectOptions) string {
	return d.provider.ID() + ":" + digest(image,
		[]byte(opts.Language),
		[]byte(strconv.FormatFloat(opts.MinConfidence, 'g', -1, 64)),
		[]byte(strconv.FormatBool(opts.Vertical)))
}

func digest(parts ...[]byte) string {
	h := sha256.New()
	for _, part := range parts {
		h.Write(part)
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

package relocate

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"path"
	"strings"

	"github.com/vitalik-svt/tomata/internal/errs"
	"github.com/vitalik-svt/tomata/internal/logger"
	"github.com/vitalik-svt/tomata/internal/model"
	"github.com/vitalik-svt/tomata/internal/storage"
)

var extensionByMIME = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/jpg":  ".jpg",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

var mimeByExtension = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".webp": "image/webp",
}

// Relocator materializes inline images into object storage and rehydrates them back.
type Relocator struct {
	store       storage.ObjectStore
	log         *logger.Logger
	targets     []string
	concurrency int
}

func New(store storage.ObjectStore, log *logger.Logger, concurrency int) *Relocator {
	if log == nil {
		log = logger.Nop()
	}
	return &Relocator{
		store:       store,
		log:         log,
		targets:     model.ImageHolderFields,
		concurrency: concurrency,
	}
}

// Materialize uploads every inline image under the docID prefix and records its location.
// Holders without inline data are left alone. The first failure aborts the whole call.
func (r *Relocator) Materialize(ctx context.Context, doc model.Document, docID string) (model.Document, error) {
	return ApplyDocument(ctx, doc, r.targets, r.concurrency, func(ctx context.Context, value any) (any, error) {
		holder, ok := value.(map[string]any)
		if !ok {
			return value, nil
		}
		inline, ok := model.ImagePayloadOf(holder, model.Inbound).(model.InlineImage)
		if !ok {
			return holder, nil
		}
		location, err := r.upload(ctx, inline.DataURI, docID)
		if err != nil {
			return nil, err
		}
		holder[model.FieldImageLocation] = location
		return holder, nil
	})
}

// Rehydrate replaces every stored image reference with inline data. A failed fetch is logged
// and leaves image_data empty; it never fails the document.
func (r *Relocator) Rehydrate(ctx context.Context, doc model.Document) model.Document {
	out, err := ApplyDocument(ctx, doc, r.targets, r.concurrency, func(ctx context.Context, value any) (any, error) {
		holder, ok := value.(map[string]any)
		if !ok {
			return value, nil
		}
		stored, ok := model.ImagePayloadOf(holder, model.Outbound).(model.StoredImage)
		if !ok {
			return holder, nil
		}
		dataURI, err := r.download(ctx, stored.Location)
		if err != nil {
			r.log.Warn("image rehydrate failed", "location", stored.Location, "error", err)
			holder[model.FieldImageData] = ""
			return holder, nil
		}
		holder[model.FieldImageData] = dataURI
		return holder, nil
	})
	if err != nil {
		// only context cancellation gets here
		r.log.Warn("image rehydrate aborted", "error", err)
		return doc.Clone()
	}
	return out
}

// Strip clears inline image data.
func (r *Relocator) Strip(doc model.Document) model.Document {
	return Strip(doc, r.targets)
}

// MaterializeThenStrip is the standard pre-persistence transform.
func (r *Relocator) MaterializeThenStrip(ctx context.Context, doc model.Document, docID string) (model.Document, error) {
	materialized, err := r.Materialize(ctx, doc, docID)
	if err != nil {
		return nil, err
	}
	return r.Strip(materialized), nil
}

// Rescope drops image_location from holders that have no inline data and point outside
// docID's prefix. Such an image could not be copied, and keeping the reference would share a
// storage key with another document.
func Rescope(doc model.Document, targets []string, docID string) model.Document {
	if doc == nil {
		return nil
	}
	own := storage.PrefixOf(docID)
	out := Apply(map[string]any(doc), targets, func(value any) any {
		holder, ok := value.(map[string]any)
		if !ok {
			return value
		}
		stored, ok := model.ImagePayloadOf(holder, model.Inbound).(model.StoredImage)
		if !ok {
			return holder
		}
		if loc, err := storage.ParseLocation(stored.Location); err == nil && loc.Prefix+"/" == own {
			return holder
		}
		delete(holder, model.FieldImageLocation)
		return holder
	})
	return model.Document(out.(map[string]any))
}

// Strip clears non-empty image_data on every holder found under targets.
func Strip(doc model.Document, targets []string) model.Document {
	if doc == nil {
		return nil
	}
	out := Apply(map[string]any(doc), targets, func(value any) any {
		holder, ok := value.(map[string]any)
		if !ok {
			return value
		}
		if data, _ := holder[model.FieldImageData].(string); data != "" {
			holder[model.FieldImageData] = ""
		}
		return holder
	})
	return model.Document(out.(map[string]any))
}

func (r *Relocator) upload(ctx context.Context, dataURI, docID string) (string, error) {
	mimeType, data, err := DecodeDataURI(dataURI)
	if err != nil {
		return "", err
	}
	ext, ok := extensionByMIME[mimeType]
	if !ok {
		return "", fmt.Errorf("%w: %q", errs.ErrUnsupportedMediaType, mimeType)
	}

	sum := sha256.Sum256(data)
	loc := storage.Location{
		Bucket: r.store.Bucket(),
		Prefix: storage.CleanPath(docID),
		File:   hex.EncodeToString(sum[:]) + ext,
	}
	if err := r.store.Put(ctx, loc.Key(), mimeType, data); err != nil {
		return "", fmt.Errorf("materialize image: %w", err)
	}
	return loc.String(), nil
}

func (r *Relocator) download(ctx context.Context, location string) (string, error) {
	loc, err := storage.ParseLocation(location)
	if err != nil {
		return "", err
	}
	obj, err := r.store.Get(ctx, loc.Key())
	if err != nil {
		return "", err
	}
	mimeType, ok := mimeByExtension[strings.ToLower(path.Ext(loc.File))]
	if !ok {
		mimeType = obj.ContentType
	}
	return EncodeDataURI(mimeType, obj.Data), nil
}

// DecodeDataURI splits "data:<mime>;base64,<payload>" into its MIME type and decoded bytes.
func DecodeDataURI(dataURI string) (string, []byte, error) {
	header, payload, ok := strings.Cut(dataURI, ",")
	if !ok || !strings.HasPrefix(header, "data:") {
		return "", nil, fmt.Errorf("%w: image_data is not a data URI", errs.ErrInvalidInput)
	}
	mimeType, encoding, _ := strings.Cut(strings.TrimPrefix(header, "data:"), ";")
	if encoding != "base64" {
		return "", nil, fmt.Errorf("%w: image_data must be base64 encoded", errs.ErrInvalidInput)
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(payload))
	if err != nil {
		return "", nil, fmt.Errorf("%w: decode image_data: %v", errs.ErrInvalidInput, err)
	}
	return strings.ToLower(strings.TrimSpace(mimeType)), data, nil
}

func EncodeDataURI(mimeType string, data []byte) string {
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

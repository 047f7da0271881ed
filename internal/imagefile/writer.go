// Package imagefile encodes captured frames to JPEG on disk.
package imagefile

import (
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/e7canasta/orion-care-sensor/modules/snapshot"
)

// DefaultQuality is the JPEG quality used for snapshots
const DefaultQuality = 90

// rgbaConverter is implemented by framebuffer views that can expand
// themselves to RGBA in one pass.
type rgbaConverter interface {
	RGBA() *image.RGBA
}

// Writer encodes images as JPEG and replaces the target file atomically:
// the image is written to a temporary file in the target directory and
// renamed over the destination, so readers never observe a partial file.
//
// Thread-safe.
type Writer struct {
	quality int

	written atomic.Uint64
	failed  atomic.Uint64
}

// NewWriter creates a JPEG writer. Quality outside 1-100 falls back to
// DefaultQuality.
func NewWriter(quality int) *Writer {
	if quality < 1 || quality > 100 {
		quality = DefaultQuality
	}
	return &Writer{quality: quality}
}

// NewWriterFactory returns a snapshot.WriterFactory producing a Writer with
// DefaultQuality.
func NewWriterFactory() snapshot.WriterFactory {
	return func() (snapshot.ImageWriter, error) {
		return NewWriter(DefaultQuality), nil
	}
}

// WriteImage encodes img and writes it to path, overwriting any existing file.
func (w *Writer) WriteImage(path string, img image.Image) error {
	if err := w.writeImage(path, img); err != nil {
		w.failed.Add(1)
		return err
	}
	w.written.Add(1)
	return nil
}

func (w *Writer) writeImage(path string, img image.Image) error {
	if conv, ok := img.(rgbaConverter); ok {
		img = conv.RGBA()
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			os.Remove(tmpName)
		}
	}()

	if err := jpeg.Encode(tmp, img, &jpeg.Options{Quality: w.quality}); err != nil {
		tmp.Close()
		return fmt.Errorf("jpeg encode failed: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	committed = true
	return nil
}

// Written returns the number of images written successfully
func (w *Writer) Written() uint64 { return w.written.Load() }

// Failed returns the number of failed writes
func (w *Writer) Failed() uint64 { return w.failed.Load() }

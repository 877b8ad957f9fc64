// Package crop cuts the same rectangle out of every image in a directory.
package crop

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"buildingrecon/internal/apperr"
	"buildingrecon/pkg/imageio"
)

// Crop crops every file in imageDir to rect and saves the result under the
// same name in outputDir, which is created when missing. Existing files in
// outputDir are overwritten. Sub-directories are ignored.
//
// It returns the number of images written. The first failure stops the pass.
func Crop(ctx context.Context, imageDir string, rect image.Rectangle, outputDir string) (int, error) {
	entries, err := os.ReadDir(imageDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, fmt.Errorf("%w: %s", apperr.ErrNotFound, imageDir)
		}
		return 0, err
	}
	if rect.Canon().Empty() {
		return 0, fmt.Errorf("empty crop rectangle %v", rect)
	}

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return 0, fmt.Errorf("create output dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	written := 0
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		if !imageio.SupportedExt(filepath.Ext(name)) {
			return written, fmt.Errorf("%s: unsupported output format", name)
		}

		img, err := imageio.Load(filepath.Join(imageDir, name))
		if err != nil {
			return written, err
		}
		cropped, err := imageio.Crop(img, rect)
		if err != nil {
			return written, fmt.Errorf("%s: %w", name, err)
		}
		if err := imageio.Save(filepath.Join(outputDir, name), cropped); err != nil {
			return written, fmt.Errorf("save %s: %w", name, err)
		}

		slog.Debug("image cropped", slog.String("file", name), slog.Any("bounds", cropped.Bounds()))
		written++
	}

	return written, nil
}

// Package imageio loads and saves slice images in the formats the pipeline meets.
package imageio

import (
	"fmt"
	"image"
	"image/draw"
	_ "image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Load decodes the image stored at path. Any registered format is accepted.
func Load(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return img, nil
}

// Encode writes img to w in the format named by ext (".png", "jpg", ...).
func Encode(w io.Writer, img image.Image, ext string) error {
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "png":
		return png.Encode(w, img)
	case "jpg", "jpeg":
		return jpeg.Encode(w, img, &jpeg.Options{Quality: 95})
	case "bmp":
		return bmp.Encode(w, img)
	case "tif", "tiff":
		return tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate})
	default:
		return fmt.Errorf("unsupported image format %q", ext)
	}
}

// Save encodes img to path, choosing the encoder from the file extension.
// An existing file is truncated.
func Save(path string, img image.Image) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := Encode(file, img, filepath.Ext(path)); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// SaveNew is like Save but fails if path already exists.
func SaveNew(path string, img image.Image) error {
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return err
	}
	if err := Encode(file, img, filepath.Ext(path)); err != nil {
		file.Close()
		os.Remove(path)
		return err
	}
	return file.Close()
}

// Clone returns a full pixel copy of img with its origin moved to (0, 0).
func Clone(img image.Image) *image.NRGBA {
	b := img.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

// Crop returns a copy of the part of img inside rect.
// rect is intersected with the image bounds; an empty result is an error.
func Crop(img image.Image, rect image.Rectangle) (*image.NRGBA, error) {
	r := rect.Canon().Intersect(img.Bounds())
	if r.Empty() {
		return nil, fmt.Errorf("crop rectangle %v does not overlap image bounds %v", rect, img.Bounds())
	}
	dst := image.NewNRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(dst, dst.Bounds(), img, r.Min, draw.Src)
	return dst, nil
}

// SupportedExt reports whether Save can write files with this extension.
func SupportedExt(ext string) bool {
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "png", "jpg", "jpeg", "bmp", "tif", "tiff":
		return true
	}
	return false
}

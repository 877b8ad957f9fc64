package models

import (
	"fmt"
	"strings"
)

// DefaultIndexWidth is the zero-padding width of canonical slice names.
const DefaultIndexWidth = 3

// SliceKey identifies one slice image of an object
type SliceKey struct {
	// Prefix is the object name, everything before the last underscore
	Prefix string

	// Index is the position of this slice in the sequence
	Index int
}

// CanonicalName renders the on-disk name for the key, e.g. "roof_007.png".
// ext may be given with or without the leading dot.
func (k SliceKey) CanonicalName(width int, ext string) string {
	if width <= 0 {
		width = DefaultIndexWidth
	}
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return fmt.Sprintf("%s_%0*d%s", k.Prefix, width, k.Index, ext)
}

// SliceEntry is a slice image discovered in a directory
type SliceEntry struct {
	// Key is parsed once from the file name and never re-derived
	Key SliceKey

	// Filename is the original base name of the file
	Filename string

	// Ext is the file extension including the dot
	Ext string
}

// Fill describes one gap index written during a repair pass
type Fill struct {
	// Index is the missing index that was written
	Index int

	// Source is the index of the image that was duplicated
	Source int

	// Filename is the base name of the written file
	Filename string
}

package sequence

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"buildingrecon/internal/apperr"
	"buildingrecon/internal/models"
)

// ParseName splits a file name of the form <prefix>_<index>.<ext>.
// The prefix may contain underscores; the index is the last
// underscore-delimited component and must be a non-negative decimal.
func ParseName(name string) (models.SliceEntry, error) {
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)

	sep := strings.LastIndexByte(base, '_')
	if sep <= 0 || sep == len(base)-1 {
		return models.SliceEntry{}, fmt.Errorf("%w: %q is not <prefix>_<index>", apperr.ErrInvalidName, name)
	}

	digits := base[sep+1:]
	for _, c := range digits {
		if c < '0' || c > '9' {
			return models.SliceEntry{}, fmt.Errorf("%w: %q has non-numeric index %q", apperr.ErrInvalidName, name, digits)
		}
	}
	index, err := strconv.Atoi(digits)
	if err != nil {
		return models.SliceEntry{}, fmt.Errorf("%w: %q: %v", apperr.ErrInvalidName, name, err)
	}

	return models.SliceEntry{
		Key:      models.SliceKey{Prefix: base[:sep], Index: index},
		Filename: name,
		Ext:      ext,
	}, nil
}

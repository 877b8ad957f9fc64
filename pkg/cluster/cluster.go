// Package cluster reads the on-disk layout of a site: the building cluster
// directories and their metadata descriptors.
package cluster

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"buildingrecon/internal/apperr"
	"buildingrecon/internal/models"
)

// Layout constants of a site data directory.
const (
	ClustersDir    = "BuildingClusters"
	SlicesDir      = "Slices"
	FirstSliceName = "slice_000000.png"
)

// MetadataFileName returns the descriptor file name of a cluster.
func MetadataFileName(clusterID string) string {
	return "cluster_" + clusterID + "__metadata.json"
}

// FirstSlicePath returns the slice the reconstruction tool starts from.
func FirstSlicePath(c models.Cluster) string {
	return filepath.Join(c.Path, SlicesDir, FirstSliceName)
}

// metadataFile mirrors the JSON descriptor. Pointers tell a missing
// field apart from a zero value.
type metadataFile struct {
	Position  []*float64 `json:"position"`
	VoxelSize *float64   `json:"voxel_size"`
}

func (m *metadataFile) Validate() error {
	return validation.ValidateStruct(m,
		validation.Field(&m.Position, validation.Required, validation.Length(2, 2), validation.Each(validation.NotNil)),
		validation.Field(&m.VoxelSize, validation.NotNil),
	)
}

// ReadMetadata loads cluster_<clusterID>__metadata.json from clusterPath.
// The file must hold a two-element numeric "position" and a numeric
// "voxel_size"; other fields are ignored.
func ReadMetadata(clusterPath, clusterID string) (*models.Metadata, error) {
	path := filepath.Join(clusterPath, MetadataFileName(clusterID))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrMetadata, err)
	}

	return ParseMetadata(data)
}

// ParseMetadata decodes and validates a metadata descriptor.
func ParseMetadata(data []byte) (*models.Metadata, error) {
	var raw metadataFile
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrMetadata, err)
	}
	if err := raw.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrMetadata, err)
	}

	return &models.Metadata{
		Position:  [2]float64{*raw.Position[0], *raw.Position[1]},
		VoxelSize: *raw.VoxelSize,
	}, nil
}

// Discover lists the clusters of a site in lexical order of their
// identifiers. Entries of BuildingClusters that are not directories are
// skipped. Cluster paths are absolute.
func Discover(dataDir string) ([]models.Cluster, error) {
	root, err := filepath.Abs(filepath.Join(dataDir, ClustersDir))
	if err != nil {
		return nil, fmt.Errorf("resolve clusters dir: %w", err)
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", apperr.ErrNotFound, root)
		}
		return nil, fmt.Errorf("list clusters: %w", err)
	}

	var clusters []models.Cluster
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		clusters = append(clusters, models.Cluster{
			ID:   e.Name(),
			Path: filepath.Join(root, e.Name()),
		})
	}

	sort.Slice(clusters, func(i, j int) bool {
		return clusters[i].ID < clusters[j].ID
	})

	return clusters, nil
}

package models

import "strconv"

// Cluster is one building cluster directory of a site
type Cluster struct {
	// ID is the cluster directory name
	ID string

	// Path is the absolute path of the cluster directory
	Path string
}

// Metadata is the per-cluster descriptor that parameterizes the tool call
type Metadata struct {
	// Position is the (x, y) plane offset of the cluster in reconstruction space
	Position [2]float64

	// VoxelSize is the edge length of one voxel
	VoxelSize float64
}

// Job holds everything passed to one reconstruction tool invocation.
// All paths are absolute.
type Job struct {
	ClusterID     string
	InputSlice    string
	OutputMesh    string
	OutputTopFace string

	// Weight and Algorithm are forwarded to the tool verbatim
	Weight    string
	Algorithm Algorithm

	X, Y, Z   float64
	VoxelSize float64
}

// NewJob builds the job for a cluster. Z is always 0.
func NewJob(c Cluster, meta *Metadata, inputSlice, outputMesh, outputTopFace, weight string, algorithm Algorithm) Job {
	return Job{
		ClusterID:     c.ID,
		InputSlice:    inputSlice,
		OutputMesh:    outputMesh,
		OutputTopFace: outputTopFace,
		Weight:        weight,
		Algorithm:     algorithm,
		X:             meta.Position[0],
		Y:             meta.Position[1],
		Z:             0,
		VoxelSize:     meta.VoxelSize,
	}
}

// Args returns the nine positional arguments of the tool:
// input, weight, algorithm, x, y, z, voxel size, mesh output, top face output.
func (j Job) Args() []string {
	return []string{
		j.InputSlice,
		j.Weight,
		string(j.Algorithm),
		formatFloat(j.X),
		formatFloat(j.Y),
		formatFloat(j.Z),
		formatFloat(j.VoxelSize),
		j.OutputMesh,
		j.OutputTopFace,
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Algorithm is the simplification selector understood by the tool.
// It is passed through untouched; Name is only used for logging.
type Algorithm string

// Known selectors.
const (
	AlgorithmAll             Algorithm = "1"
	AlgorithmDP              Algorithm = "2"
	AlgorithmRightAngle      Algorithm = "3"
	AlgorithmCurve           Algorithm = "4"
	AlgorithmCurveRightAngle Algorithm = "5"
)

// Name returns a readable name for known selectors and "custom" otherwise.
func (a Algorithm) Name() string {
	switch a {
	case AlgorithmAll:
		return "all"
	case AlgorithmDP:
		return "dp"
	case AlgorithmRightAngle:
		return "right-angle"
	case AlgorithmCurve:
		return "curve"
	case AlgorithmCurveRightAngle:
		return "curve-right-angle"
	default:
		return "custom"
	}
}

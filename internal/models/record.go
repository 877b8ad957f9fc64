package models

// Record is one line of a reconstruction results file
type Record struct {
	// Error is 1 - IoU of the simplified building against its voxels
	Error float64

	// ShapeCount is the number of primitive shapes in the result
	ShapeCount int

	// Algorithm is the id of the simplification that was selected
	Algorithm int
}

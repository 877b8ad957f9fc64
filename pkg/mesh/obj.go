// Package mesh reads back the Wavefront OBJ files written by the
// reconstruction tool so a run can report what was produced.
package mesh

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
)

// Stats summarizes an OBJ mesh
type Stats struct {
	// Vertices is the number of "v" records
	Vertices int `yaml:"vertices"`

	// Faces is the number of "f" records
	Faces int `yaml:"faces"`

	// Objects is the number of "o" or "g" records
	Objects int `yaml:"objects"`

	// Min and Max are the axis-aligned bounding box of all vertices
	Min [3]float64 `yaml:"min"`
	Max [3]float64 `yaml:"max"`
}

// ReadStats parses the OBJ file at path.
func ReadStats(path string) (Stats, error) {
	f, err := os.Open(path)
	if err != nil {
		return Stats{}, err
	}
	defer f.Close()
	return ParseStats(f)
}

// ParseStats counts the records of an OBJ stream and computes the
// vertex bounding box. Unknown record types are ignored.
func ParseStats(r io.Reader) (Stats, error) {
	var s Stats
	for i := range s.Min {
		s.Min[i] = math.Inf(1)
		s.Max[i] = math.Inf(-1)
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "v":
			if len(fields) < 4 {
				return Stats{}, fmt.Errorf("line %d: vertex needs 3 coordinates", line)
			}
			for i := 0; i < 3; i++ {
				c, err := strconv.ParseFloat(fields[i+1], 64)
				if err != nil {
					return Stats{}, fmt.Errorf("line %d: %w", line, err)
				}
				s.Min[i] = math.Min(s.Min[i], c)
				s.Max[i] = math.Max(s.Max[i], c)
			}
			s.Vertices++
		case "f":
			if len(fields) < 4 {
				return Stats{}, fmt.Errorf("line %d: face needs at least 3 vertices", line)
			}
			s.Faces++
		case "o", "g":
			s.Objects++
		}
	}
	if err := scanner.Err(); err != nil {
		return Stats{}, err
	}

	if s.Vertices == 0 {
		s.Min, s.Max = [3]float64{}, [3]float64{}
	}
	return s, nil
}

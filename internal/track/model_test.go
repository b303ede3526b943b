package track

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coderally/coderally/internal/geom"
)

// straightTrack builds a single east-running segment from (0,0) to (1000,0),
// width 160, with a checkpoint gate at x=500.
func straightTrack() *Track {
	seg := Segment{
		Start:   Point{Position: geom.V(0, 0), Width: 160},
		End:     Point{Position: geom.V(1000, 0), Width: 160},
		Surface: SurfaceAsphalt,
	}
	t := &Track{
		Segments: []Segment{seg},
		Checkpoints: []Checkpoint{
			{Index: 0, Position: geom.V(500, 0), Angle: 0, Width: 160},
		},
		StartPosition: geom.V(0, 0),
	}
	t.TotalLength = t.Segments[0].Length()
	return t
}

func TestSegmentLengthStraight(t *testing.T) {
	trk := straightTrack()
	assert.InDelta(t, 1000.0, trk.TotalLength, 1e-9)
}

func TestSegmentPointAtCurve(t *testing.T) {
	c1 := geom.V(0, 100)
	c2 := geom.V(100, 100)
	seg := Segment{
		Start:    Point{Position: geom.V(0, 0), Width: 160},
		End:      Point{Position: geom.V(100, 0), Width: 160},
		Control1: &c1,
		Control2: &c2,
	}

	assert.False(t, seg.IsStraight())
	assert.Equal(t, geom.V(0, 0), seg.PointAt(0))
	assert.Equal(t, geom.V(100, 0), seg.PointAt(1))

	// curve bows upward
	mid := seg.PointAt(0.5)
	assert.Greater(t, mid.Y, 50.0)

	// curve length exceeds the straight-line distance
	assert.Greater(t, seg.Length(), 100.0)
}

func TestIsOffTrack(t *testing.T) {
	trk := straightTrack()

	tests := []struct {
		name string
		pos  geom.Vec
		off  bool
	}{
		{"centerline", geom.V(500, 0), false},
		{"near edge inside", geom.V(500, 75), false},
		{"just outside", geom.V(500, 85), true},
		{"far off", geom.V(500, 400), true},
		{"on the edge", geom.V(500, 79.9), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.off, trk.IsOffTrack(tt.pos))
		})
	}
}

func TestSurfaceAt(t *testing.T) {
	icy := Segment{
		Start:   Point{Position: geom.V(1000, 0), Width: 160},
		End:     Point{Position: geom.V(2000, 0), Width: 160},
		Surface: SurfaceIce,
	}
	trk := straightTrack()
	trk.Segments = append(trk.Segments, icy)

	assert.Equal(t, SurfaceAsphalt, trk.SurfaceAt(geom.V(300, 10)))
	assert.Equal(t, SurfaceIce, trk.SurfaceAt(geom.V(1700, -10)))
}

func TestCheckpointCrossed(t *testing.T) {
	cp := Checkpoint{Index: 0, Position: geom.V(500, 0), Angle: 0, Width: 160}

	tests := []struct {
		name     string
		from, to geom.Vec
		want     bool
	}{
		{"forward through gate", geom.V(490, 10), geom.V(510, 10), true},
		{"reverse through gate", geom.V(510, 10), geom.V(490, 10), false},
		{"outside gate width", geom.V(490, 120), geom.V(510, 120), false},
		{"no crossing", geom.V(450, 0), geom.V(460, 0), false},
		{"forward at an angle", geom.V(495, -30), geom.V(505, 30), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cp.Crossed(tt.from, tt.to))
		})
	}
}

func TestCheckpointLinePerpendicular(t *testing.T) {
	cp := Checkpoint{Position: geom.V(0, 0), Angle: math.Pi / 2, Width: 100}
	a, b := cp.Line()

	// gate for a north-heading track runs east-west
	assert.InDelta(t, 0.0, a.Y, 1e-9)
	assert.InDelta(t, 0.0, b.Y, 1e-9)
	assert.InDelta(t, 100.0, geom.Mag(geom.V(a.X-b.X, a.Y-b.Y)), 1e-9)
}

func TestParseDifficulty(t *testing.T) {
	assert.Equal(t, DifficultyEasy, ParseDifficulty("easy"))
	assert.Equal(t, DifficultyHard, ParseDifficulty("hard"))
	assert.Equal(t, DifficultyMedium, ParseDifficulty(""))
	assert.Equal(t, DifficultyMedium, ParseDifficulty("extreme"))
}

func TestFinishLineIsLastCheckpoint(t *testing.T) {
	trk := straightTrack()
	trk.Checkpoints = append(trk.Checkpoints, Checkpoint{Index: 1, Position: geom.V(900, 0), Angle: 0, Width: 160})

	require.Equal(t, 1, trk.FinishLine().Index)
}

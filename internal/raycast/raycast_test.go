package raycast

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coderally/coderally/internal/geom"
	"github.com/coderally/coderally/internal/track"
)

const maxRange = 200.0

// corridorTrack has walls at y=+100 and y=-100 and a single obstacle.
func corridorTrack() *track.Track {
	return &track.Track{
		Segments: []track.Segment{{
			Start: track.Point{Position: geom.V(-1000, 0), Width: 160},
			End:   track.Point{Position: geom.V(1000, 0), Width: 160},
		}},
		Containment: &track.Containment{
			Left:  []geom.Vec{geom.V(-1000, 100), geom.V(1000, 100)},
			Right: []geom.Vec{geom.V(-1000, -100), geom.V(1000, -100)},
		},
		Obstacles: []track.Obstacle{
			{Position: geom.V(150, 0), Radius: 10, Kind: "rock"},
		},
	}
}

func TestCastAllRayOrder(t *testing.T) {
	c := NewCaster(corridorTrack(), maxRange)

	// heading east from the origin
	results := c.CastAll(geom.V(0, 0), 0, nil)

	// ray 0: forward, hits the obstacle at 150-10
	assert.Equal(t, HitObstacle, results[0].HitType)
	assert.InDelta(t, 140.0, results[0].Distance, 1e-9)

	// ray 3: 90 degrees right (south), wall at y=-100
	assert.Equal(t, HitBoundary, results[3].HitType)
	assert.InDelta(t, 100.0, results[3].Distance, 1e-6)

	// ray 6: 90 degrees left (north), wall at y=+100
	assert.Equal(t, HitBoundary, results[6].HitType)
	assert.InDelta(t, 100.0, results[6].Distance, 1e-6)

	// rays 1 and 5: 30 degrees off forward, walls out of reach within range
	// (the obstacle is narrow, so they miss it)
	assert.Equal(t, HitNone, results[1].HitType)
	assert.InDelta(t, maxRange, results[1].Distance, 1e-9)

	// rays 2 and 4: 60 degrees, wall at 100/sin(60) ~ 115.5
	assert.Equal(t, HitBoundary, results[2].HitType)
	assert.InDelta(t, 100/math.Sin(math.Pi/3), results[2].Distance, 1e-6)
	assert.Equal(t, HitBoundary, results[4].HitType)
	assert.InDelta(t, results[2].Distance, results[4].Distance, 1e-6)
}

func TestCastDetectsCars(t *testing.T) {
	c := NewCaster(corridorTrack(), maxRange)

	targets := []Target{{Position: geom.V(50, 0), Radius: 10}}
	results := c.CastAll(geom.V(0, 0), 0, targets)

	// the car at x=50 is closer than the obstacle at x=150
	assert.Equal(t, HitCar, results[0].HitType)
	assert.InDelta(t, 40.0, results[0].Distance, 1e-9)
	require.NotNil(t, results[0].HitPosition)
	assert.InDelta(t, 40.0, results[0].HitPosition[0], 1e-9)
}

func TestCastIgnoresTargetsBehind(t *testing.T) {
	c := NewCaster(corridorTrack(), maxRange)

	targets := []Target{{Position: geom.V(-50, 0), Radius: 10}}
	results := c.CastAll(geom.V(0, 0), 0, targets)

	assert.Equal(t, HitObstacle, results[0].HitType)
}

func TestCastRespectsMaxRange(t *testing.T) {
	trk := corridorTrack()
	trk.Obstacles = nil
	c := NewCaster(trk, 50)

	results := c.CastAll(geom.V(0, 0), 0, nil)

	// walls are 100 away sideways, beyond a 50-unit range
	for i, r := range results {
		assert.Equal(t, HitNone, r.HitType, "ray %d", i)
		assert.Equal(t, 50.0, r.Distance, "ray %d", i)
		assert.Nil(t, r.HitPosition, "ray %d", i)
	}
}

func TestCastParallelRayMissesWall(t *testing.T) {
	trk := corridorTrack()
	trk.Obstacles = nil
	c := NewCaster(trk, maxRange)

	// heading east, exactly parallel to both walls: forward ray misses
	results := c.CastAll(geom.V(0, 0), 0, nil)
	assert.Equal(t, HitNone, results[0].HitType)
}

func TestCastHeadingRotatesRays(t *testing.T) {
	c := NewCaster(corridorTrack(), maxRange)

	// heading north: forward ray now hits the left wall at y=+100
	results := c.CastAll(geom.V(0, 0), math.Pi/2, nil)
	assert.Equal(t, HitBoundary, results[0].HitType)
	assert.InDelta(t, 100.0, results[0].Distance, 1e-6)
}

func TestRayCircleGrazing(t *testing.T) {
	// ray passes just outside the circle
	_, ok := rayCircle(geom.V(0, 0), geom.V(1, 0), geom.V(100, 11), 10, maxRange)
	assert.False(t, ok)

	// dead-center hit
	d, ok := rayCircle(geom.V(0, 0), geom.V(1, 0), geom.V(100, 0), 10, maxRange)
	require.True(t, ok)
	assert.InDelta(t, 90.0, d, 1e-9)

	// origin inside the circle: near intersection is behind, reject
	_, ok = rayCircle(geom.V(0, 0), geom.V(1, 0), geom.V(5, 0), 10, maxRange)
	assert.False(t, ok)
}

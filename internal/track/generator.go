package track

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/coderally/coderally/internal/config"
	"github.com/coderally/coderally/internal/geom"
)

// Generator builds procedural point-to-point rally stages. The same seed and
// difficulty always produce the same stage, so clients can regenerate a
// track locally from its seed instead of shipping the full geometry.
type Generator struct {
	cfg *config.GameConfig
	rng *rand.Rand
}

// NewGenerator returns a generator seeded for reproducible output.
func NewGenerator(cfg *config.GameConfig, seed int64) *Generator {
	return &Generator{
		cfg: cfg,
		rng: rand.New(rand.NewSource(seed)),
	}
}

// Generate builds a complete stage: serpentine centerline, surface sections,
// checkpoints at segment midpoints, containment walls, and obstacles
// scattered through the off-road area.
func (g *Generator) Generate(seed int64, difficulty Difficulty) *Track {
	points := g.controlPoints(difficulty)
	segments := g.buildSegments(points, difficulty)

	t := &Track{
		Seed:       seed,
		Difficulty: difficulty,
		Segments:   segments,
	}
	for i := range t.Segments {
		t.TotalLength += t.Segments[i].Length()
	}

	t.Checkpoints = placeCheckpoints(segments)
	t.StartPosition, t.StartHeading = startPose(segments)
	t.FinishPosition, t.FinishHeading = finishPose(segments)
	t.Containment = g.buildContainment(segments)
	t.Obstacles = g.scatterObstacles(t)

	return t
}

// Stage endpoints. Every stage runs from the same corner of the map to the
// same far edge; the serpentine offsets make each seed distinct.
const (
	stageStartX = -600.0
	stageStartY = -500.0
	stageEndX   = -400.0
	stageEndY   = 700.0
)

func controlPointCount(d Difficulty) int {
	switch d {
	case DifficultyEasy:
		return 8
	case DifficultyHard:
		return 18
	default:
		return 13
	}
}

func maxCurveIntensity(d Difficulty) float64 {
	switch d {
	case DifficultyEasy:
		return 0.3
	case DifficultyHard:
		return 0.7
	default:
		return 0.5
	}
}

func (g *Generator) controlPoints(difficulty Difficulty) []Point {
	n := controlPointCount(difficulty)
	points := make([]Point, 0, n)

	for i := 0; i < n; i++ {
		progress := float64(i) / float64(n-1)

		baseX := stageStartX + progress*(stageEndX-stageStartX)
		baseY := stageStartY + progress*(stageEndY-stageStartY)

		// Serpentine sweep, strongest mid-stage and pinned at the ends.
		strength := math.Sin(progress*math.Pi) * 300.0
		offset := math.Sin(progress*math.Pi*3) * strength

		points = append(points, Point{
			Position: geom.V(baseX+offset, baseY+g.rng.Float64()*100-50),
			Width:    g.cfg.StageWidth * (0.9 + g.rng.Float64()*0.2),
		})
	}
	return points
}

func (g *Generator) buildSegments(points []Point, difficulty Difficulty) []Segment {
	numSegments := len(points) - 1
	intensities := g.curveIntensities(numSegments, difficulty)
	surfaces := g.surfaceSections(numSegments)

	segments := make([]Segment, 0, numSegments)
	for i := 0; i < numSegments; i++ {
		seg := Segment{
			Start:   points[i],
			End:     points[i+1],
			Surface: surfaces[i],
		}

		if intensities[i] > 0 {
			d := r2.Sub(seg.End.Position, seg.Start.Position)
			offset := r2.Scale(intensities[i], geom.Perpendicular(d))

			c1 := r2.Add(r2.Add(seg.Start.Position, r2.Scale(0.33, d)), offset)
			c2 := r2.Add(r2.Add(seg.Start.Position, r2.Scale(0.66, d)), offset)
			seg.Control1 = &c1
			seg.Control2 = &c2
		}

		segments = append(segments, seg)
	}
	return segments
}

func (g *Generator) curveIntensities(numSegments int, difficulty Difficulty) []float64 {
	maxIntensity := maxCurveIntensity(difficulty)

	intensities := make([]float64, 0, numSegments)
	for i := 0; i < numSegments; i++ {
		switch {
		case g.rng.Float64() < 0.3: // straight
			intensities = append(intensities, 0)
		case g.rng.Float64() < 0.5: // gentle
			intensities = append(intensities, uniform(g.rng, 0.1, maxIntensity*0.4))
		case g.rng.Float64() < 0.8: // medium
			intensities = append(intensities, uniform(g.rng, maxIntensity*0.4, maxIntensity*0.7))
		default: // hairpin
			intensities = append(intensities, uniform(g.rng, maxIntensity*0.7, maxIntensity))
		}
	}
	return intensities
}

// surfaceSections assigns surfaces in runs of 2-4 segments so a stage reads
// as stretches of tarmac, gravel, and so on rather than per-segment noise.
func (g *Generator) surfaceSections(numSegments int) []Surface {
	surfaces := make([]Surface, 0, numSegments)
	for len(surfaces) < numSegments {
		surface := g.chooseSurface()

		remaining := numSegments - len(surfaces)
		length := 1
		if remaining > 1 {
			length = 2 + g.rng.Intn(min(4, remaining)-1)
		}
		for i := 0; i < length && len(surfaces) < numSegments; i++ {
			surfaces = append(surfaces, surface)
		}
	}
	return surfaces
}

func (g *Generator) chooseSurface() Surface {
	total := g.cfg.SurfaceAsphaltWeight + g.cfg.SurfaceWetWeight + g.cfg.SurfaceGravelWeight + g.cfg.SurfaceIceWeight
	r := g.rng.Float64() * total

	if r < g.cfg.SurfaceAsphaltWeight {
		return SurfaceAsphalt
	}
	r -= g.cfg.SurfaceAsphaltWeight
	if r < g.cfg.SurfaceWetWeight {
		return SurfaceWet
	}
	r -= g.cfg.SurfaceWetWeight
	if r < g.cfg.SurfaceGravelWeight {
		return SurfaceGravel
	}
	return SurfaceIce
}

// placeCheckpoints puts one gate at the midpoint of each segment, oriented
// along the local track tangent. The last gate doubles as the finish line.
func placeCheckpoints(segments []Segment) []Checkpoint {
	checkpoints := make([]Checkpoint, 0, len(segments))
	for i := range segments {
		seg := &segments[i]
		checkpoints = append(checkpoints, Checkpoint{
			Index:    i,
			Position: seg.PointAt(0.5),
			Angle:    seg.TangentAt(0.5),
			Width:    seg.Start.Width,
		})
	}
	return checkpoints
}

func startPose(segments []Segment) (geom.Vec, float64) {
	first := &segments[0]
	pos := first.Start.Position

	var toward geom.Vec
	if first.Control1 != nil {
		toward = r2.Sub(*first.Control1, pos)
	} else {
		toward = r2.Sub(first.End.Position, pos)
	}
	return pos, geom.Heading(toward)
}

func finishPose(segments []Segment) (geom.Vec, float64) {
	last := &segments[len(segments)-1]
	pos := last.End.Position

	var from geom.Vec
	if last.Control2 != nil {
		from = r2.Sub(pos, *last.Control2)
	} else {
		from = r2.Sub(pos, last.Start.Position)
	}
	return pos, geom.Heading(from)
}

// buildContainment offsets the sampled centerline sideways to form the two
// outer walls. The offset is measured from the track edge, so wider segments
// push the walls further out.
func (g *Generator) buildContainment(segments []Segment) *Containment {
	c := &Containment{}
	for i := range segments {
		seg := &segments[i]
		samples := seg.Samples()

		// Skip the last sample except on the final segment; the next
		// segment's first sample covers the shared point.
		limit := len(samples) - 1
		if i == len(segments)-1 {
			limit = len(samples)
		}

		for j := 0; j < limit; j++ {
			t := float64(j) / float64(len(samples)-1)
			perp := geom.Perpendicular(geom.FromHeading(seg.TangentAt(t)))
			reach := seg.Start.Width/2 + g.cfg.ContainmentOffset

			c.Left = append(c.Left, r2.Add(samples[j], r2.Scale(reach, perp)))
			c.Right = append(c.Right, r2.Sub(samples[j], r2.Scale(reach, perp)))
		}
	}
	return c
}

var obstacleKinds = []string{"rock", "tree", "building"}

// scatterObstacles fills the off-road band between the track edge and the
// containment walls. Density is expressed per 1000 square units of that band.
func (g *Generator) scatterObstacles(t *Track) []Obstacle {
	bandArea := t.TotalLength * 2 * g.cfg.ContainmentOffset
	count := int(g.cfg.ObstacleDensity * bandArea / 1000)

	obstacles := make([]Obstacle, 0, count)
	for i := 0; i < count; i++ {
		seg := &t.Segments[g.rng.Intn(len(t.Segments))]
		tt := g.rng.Float64()
		center := seg.PointAt(tt)
		perp := geom.Perpendicular(geom.FromHeading(seg.TangentAt(tt)))

		radius := uniform(g.rng, g.cfg.ObstacleMinRadius, g.cfg.ObstacleMaxRadius)

		maxReach := seg.Start.Width/2 + g.cfg.ContainmentOffset - radius
		if maxReach <= g.cfg.ObstacleMinFromTrack {
			continue
		}
		reach := uniform(g.rng, g.cfg.ObstacleMinFromTrack, maxReach)
		if g.rng.Float64() < 0.5 {
			reach = -reach
		}

		obstacles = append(obstacles, Obstacle{
			Position: r2.Add(center, r2.Scale(reach, perp)),
			Radius:   radius,
			Kind:     obstacleKinds[g.rng.Intn(len(obstacleKinds))],
		})
	}
	return obstacles
}

// Generate is the package-level convenience entry point: one seeded
// generator, one stage.
func Generate(cfg *config.GameConfig, seed int64, difficulty Difficulty) *Track {
	return NewGenerator(cfg, seed).Generate(seed, difficulty)
}

func uniform(rng *rand.Rand, lo, hi float64) float64 {
	return lo + rng.Float64()*(hi-lo)
}

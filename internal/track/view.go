package track

// View is the wire representation of a stage, sent to clients over REST and
// in the session join payload. Positions are [x, y] pairs.
type View struct {
	Seed           int64            `json:"seed"`
	Difficulty     string           `json:"difficulty"`
	Segments       []SegmentView    `json:"segments"`
	Checkpoints    []CheckpointView `json:"checkpoints"`
	StartPosition  [2]float64       `json:"start_position"`
	StartHeading   float64          `json:"start_heading"`
	FinishPosition [2]float64       `json:"finish_position"`
	FinishHeading  float64          `json:"finish_heading"`
	TotalLength    float64          `json:"total_length"`
	IsLooping      bool             `json:"is_looping"`
	Containment    *ContainmentView `json:"containment"`
	Obstacles      []ObstacleView   `json:"obstacles"`
}

type PointView struct {
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Width   float64 `json:"width"`
	Surface string  `json:"surface"`
}

type SegmentView struct {
	Start    PointView  `json:"start"`
	End      PointView  `json:"end"`
	Control1 []float64  `json:"control1"`
	Control2 []float64  `json:"control2"`
}

type CheckpointView struct {
	Position [2]float64 `json:"position"`
	Angle    float64    `json:"angle"`
	Width    float64    `json:"width"`
	Index    int        `json:"index"`
}

type ContainmentView struct {
	LeftPoints  [][2]float64 `json:"left_points"`
	RightPoints [][2]float64 `json:"right_points"`
}

type ObstacleView struct {
	Position [2]float64 `json:"position"`
	Radius   float64    `json:"radius"`
	Kind     string     `json:"type"`
}

// View converts the stage into its wire representation.
func (t *Track) View() *View {
	v := &View{
		Seed:           t.Seed,
		Difficulty:     string(t.Difficulty),
		Segments:       make([]SegmentView, 0, len(t.Segments)),
		Checkpoints:    make([]CheckpointView, 0, len(t.Checkpoints)),
		StartPosition:  [2]float64{t.StartPosition.X, t.StartPosition.Y},
		StartHeading:   t.StartHeading,
		FinishPosition: [2]float64{t.FinishPosition.X, t.FinishPosition.Y},
		FinishHeading:  t.FinishHeading,
		TotalLength:    t.TotalLength,
		Obstacles:      make([]ObstacleView, 0, len(t.Obstacles)),
	}

	for i := range t.Segments {
		seg := &t.Segments[i]
		sv := SegmentView{
			Start: PointView{seg.Start.Position.X, seg.Start.Position.Y, seg.Start.Width, string(seg.Surface)},
			End:   PointView{seg.End.Position.X, seg.End.Position.Y, seg.End.Width, string(seg.Surface)},
		}
		if seg.Control1 != nil {
			sv.Control1 = []float64{seg.Control1.X, seg.Control1.Y}
			sv.Control2 = []float64{seg.Control2.X, seg.Control2.Y}
		}
		v.Segments = append(v.Segments, sv)
	}

	for _, cp := range t.Checkpoints {
		v.Checkpoints = append(v.Checkpoints, CheckpointView{
			Position: [2]float64{cp.Position.X, cp.Position.Y},
			Angle:    cp.Angle,
			Width:    cp.Width,
			Index:    cp.Index,
		})
	}

	if t.Containment != nil {
		cv := &ContainmentView{
			LeftPoints:  make([][2]float64, 0, len(t.Containment.Left)),
			RightPoints: make([][2]float64, 0, len(t.Containment.Right)),
		}
		for _, p := range t.Containment.Left {
			cv.LeftPoints = append(cv.LeftPoints, [2]float64{p.X, p.Y})
		}
		for _, p := range t.Containment.Right {
			cv.RightPoints = append(cv.RightPoints, [2]float64{p.X, p.Y})
		}
		v.Containment = cv
	}

	for _, obs := range t.Obstacles {
		v.Obstacles = append(v.Obstacles, ObstacleView{
			Position: [2]float64{obs.Position.X, obs.Position.Y},
			Radius:   obs.Radius,
			Kind:     obs.Kind,
		})
	}

	return v
}

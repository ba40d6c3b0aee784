// Package pose turns pose-estimation landmarks into tracker positions and publishes them over OSC.
package pose

// Landmark indices of the MediaPipe pose model.
const (
	LeftShoulder  = 11
	RightShoulder = 12
	LeftHip       = 23
	RightHip      = 24
	LeftAnkle     = 27
	RightAnkle    = 28
	LeftHeel      = 29
	RightHeel     = 30
)

// VisibilityThreshold is exclusive: a landmark must be strictly more visible than this to count.
const VisibilityThreshold = 0.5

type Landmark struct {
	X          float64 `yaml:"x"`
	Y          float64 `yaml:"y"`
	Z          float64 `yaml:"z"`
	Visibility float64 `yaml:"visibility"`
}

func (l Landmark) visible() bool {
	return l.Visibility > VisibilityThreshold
}

// Frame is one pose estimate. Missing landmarks are treated as invisible.
type Frame struct {
	Landmarks map[int]Landmark `yaml:"landmarks"`
}

// FrameFromSlice builds a frame from a landmark list indexed the way the pose model emits it.
func FrameFromSlice(landmarks []Landmark) Frame {
	f := Frame{Landmarks: make(map[int]Landmark, len(landmarks))}
	for i, l := range landmarks {
		f.Landmarks[i] = l
	}
	return f
}

// Segment is one body tracker derived from a frame.
type Segment struct {
	ID       string
	Position []float64
	Rotation []float64
	Visible  bool
}

type segmentDef struct {
	id   string
	a, b int
}

var segmentDefs = []segmentDef{
	{id: "hip", a: LeftHip, b: RightHip},
	{id: "chest", a: LeftShoulder, b: RightShoulder},
	{id: "left_foot", a: LeftAnkle, b: LeftHeel},
	{id: "right_foot", a: RightAnkle, b: RightHeel},
}

// Segments computes every body segment of f as the midpoint of its two landmarks. Rotation is not estimated and
// is always zero.
func Segments(f Frame) []Segment {
	out := make([]Segment, 0, len(segmentDefs))
	for _, def := range segmentDefs {
		a, okA := f.Landmarks[def.a]
		b, okB := f.Landmarks[def.b]
		out = append(out, Segment{
			ID: def.id,
			Position: []float64{
				(a.X + b.X) / 2,
				(a.Y + b.Y) / 2,
				(a.Z + b.Z) / 2,
			},
			Rotation: []float64{0, 0, 0},
			Visible:  okA && okB && a.visible() && b.visible(),
		})
	}
	return out
}

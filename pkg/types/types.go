package types

// Box represents a normalized bounding box with coordinates in [0,1] range
type Box struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Empty reports whether the box has no area
func (b Box) Empty() bool {
	return b.W <= 0 || b.H <= 0
}

// Detection is one object a backend found in an image
type Detection struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Box        Box     `json:"box"`
}

// DetectionResult is everything a backend reported for one image
type DetectionResult struct {
	Objects     []Detection `json:"objects"`
	Description string      `json:"description,omitempty"`
}

// ModelOptions controls how images are sent to a vision model
type ModelOptions struct {
	Model   string
	Prompt  string
	Format  string
	MaxDim  int
	Quality int
}

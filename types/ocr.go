package types

type TextArea struct {
	X          int     `json:"x"`
	Y          int     `json:"y"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

type DetectOptions struct {
	Language      string  `json:"language"`
	MinConfidence float64 `json:"min_confidence"`
	Vertical      bool    `json:"vertical"`
}

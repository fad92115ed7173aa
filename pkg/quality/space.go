package quality

import "math"

// ParameterSpace bounds the quality knob and maps scale factors to pixel
// dimensions for one source image.
type ParameterSpace struct {
	MinQuality float64
	MaxQuality float64
	Width      int
	Height     int
}

// Clamp returns q limited to [MinQuality, MaxQuality]. NaN maps to the floor.
func (p ParameterSpace) Clamp(q float64) float64 {
	if math.IsNaN(q) || q < p.MinQuality {
		return p.MinQuality
	}
	if q > p.MaxQuality {
		return p.MaxQuality
	}
	return q
}

// Dimensions returns the pixel size for a linear scale factor, keeping the
// aspect ratio and never going below 1x1.
func (p ParameterSpace) Dimensions(scale float64) (w, h int) {
	if math.IsNaN(scale) || scale <= 0 {
		return 1, 1
	}
	w = int(math.Round(float64(p.Width) * scale))
	h = int(math.Round(float64(p.Height) * scale))
	return max(w, 1), max(h, 1)
}

// RescaleFactor is the area-proportional guess for how much each side must
// shrink so that an output of observedBytes lands on targetBytes. The result
// is within (0, 1].
func RescaleFactor(targetBytes, observedBytes int64) float64 {
	if observedBytes <= 0 || targetBytes <= 0 || targetBytes >= observedBytes {
		return 1
	}
	return math.Sqrt(float64(targetBytes) / float64(observedBytes))
}

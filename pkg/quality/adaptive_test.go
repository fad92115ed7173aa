package quality

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"testing"
)

// jpegEncoder encodes with the standard library at q*100, ignoring scale.
func jpegEncoder(_ context.Context, img image.Image, p Params) ([]byte, error) {
	var buf bytes.Buffer
	q := int(math.Round(p.Quality * 100))
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: max(q, 1)}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// createTestImage creates a gradient with some noise so size tracks quality.
func createTestImage(width, height int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8((x * 255) / width),
				G: uint8((y * 255) / height),
				B: uint8((x * y) % 256),
				A: 255,
			})
		}
	}
	return img
}

func TestAsymmetricStep(t *testing.T) {
	step := DefaultStep

	tests := []struct {
		name      string
		low, high float64
		ratio     float64
		want      float64
	}{
		// overshoot by 2x: (1 - 1/2) * 0.8 = 0.4 of the width below high
		{"Overshoot", 0.1, 0.7, 2, 0.7 - 0.4*0.6},
		// undershoot at half: (1 - 0.5) * 0.5 = 0.25 of the width above low
		{"Undershoot", 0.5, 1.0, 0.5, 0.5 + 0.25*0.5},
		// tiny miss is clamped to the minimum fraction
		{"Small overshoot", 0.1, 0.7, 1.01, 0.7 - 0.1*0.6},
		{"Small undershoot", 0.1, 0.7, 0.99, 0.1 + 0.1*0.6},
		{"Huge overshoot", 0.1, 0.7, 1000, 0.7 - 0.8*(1-1.0/1000)*0.6},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := step.Next(tt.low, tt.high, tt.ratio)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Next(%v, %v, %v) = %v, want %v", tt.low, tt.high, tt.ratio, got, tt.want)
			}
			if got <= tt.low || got >= tt.high {
				t.Errorf("Next() = %v, not strictly inside (%v, %v)", got, tt.low, tt.high)
			}
		})
	}
}

func TestAsymmetricStep_OvershootPullsHarder(t *testing.T) {
	low, high := 0.2, 0.8

	down := DefaultStep.Next(low, high, 1.5)
	up := DefaultStep.Next(low, high, 1/1.5)
	if high-down <= 0 || up-low <= 0 {
		t.Fatalf("steps did not move: down=%v up=%v", down, up)
	}
	if (high - down) <= (up - low) {
		t.Errorf("overshoot step %v should exceed undershoot step %v", high-down, up-low)
	}
}

func TestAsymmetricStep_MaxFraction(t *testing.T) {
	step := AsymmetricStep{Down: 2, Up: 2, MinFraction: 0.1, MaxFraction: 0.5}
	if got := step.Next(0, 1, 100); math.Abs(got-0.5) > 1e-9 {
		t.Errorf("overshoot Next() = %v, want 0.5", got)
	}
	if got := step.Next(0, 1, 0.01); math.Abs(got-0.5) > 1e-9 {
		t.Errorf("undershoot Next() = %v, want 0.5", got)
	}
}

func TestBisectStep(t *testing.T) {
	if got := (BisectStep{}).Next(0.2, 0.6, 3); math.Abs(got-0.4) > 1e-12 {
		t.Errorf("Next() = %v, want 0.4", got)
	}
}

func TestStepFuncOf(t *testing.T) {
	var got [3]float64
	f := StepFuncOf(func(low, high, ratio float64) float64 {
		got = [3]float64{low, high, ratio}
		return 0.42
	})
	if v := f.Next(0.1, 0.9, 1.2); v != 0.42 {
		t.Errorf("Next() = %v, want 0.42", v)
	}
	if got != [3]float64{0.1, 0.9, 1.2} {
		t.Errorf("arguments = %v", got)
	}
}

func TestSolve_RealJPEG(t *testing.T) {
	img := createTestImage(800, 600)
	original, err := jpegEncoder(context.Background(), img, Params{Quality: 1})
	if err != nil {
		t.Fatalf("encode original: %v", err)
	}

	tests := []struct {
		name     string
		fraction float64
	}{
		{"Half size", 0.5},
		{"Quarter size", 0.25},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := DefaultRequest(NewSource(img, original), int64(float64(len(original))*tt.fraction))
			req.Tolerance = 0.1

			out, err := quietSolver(EncoderFunc(jpegEncoder)).Solve(context.Background(), req)
			if err != nil {
				t.Fatalf("Solve() error = %v", err)
			}
			if out.Result == nil {
				t.Fatal("expected a result")
			}
			if _, err := jpeg.Decode(bytes.NewReader(out.Result.Data)); err != nil {
				t.Errorf("result is not a valid JPEG: %v", err)
			}
			if out.Result.Size >= int64(len(original)) {
				t.Errorf("result %d bytes, original %d bytes", out.Result.Size, len(original))
			}
			if out.Attempts > req.MaxAttempts {
				t.Errorf("Attempts = %d", out.Attempts)
			}
			t.Logf("target=%d got=%d quality=%.3f attempts=%d reason=%v",
				req.TargetBytes, out.Result.Size, out.Result.Quality, out.Attempts, out.Reason)
		})
	}
}

func BenchmarkAsymmetricStep(b *testing.B) {
	for i := 0; i < b.N; i++ {
		DefaultStep.Next(0.1, 0.9, 1.37)
	}
}

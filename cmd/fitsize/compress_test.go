package main

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
)

func writeImage(t *testing.T, dir, name string, width, height int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{uint8(x), uint8((x * y) % 256), uint8(y), 255})
		}
	}

	var buf bytes.Buffer
	var err error
	if strings.HasSuffix(name, ".png") {
		err = png.Encode(&buf, img)
	} else {
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95})
	}
	if err != nil {
		t.Fatalf("encode %s: %v", name, err)
	}

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCompress_WritesOutputs(t *testing.T) {
	dir := t.TempDir()
	outDir := filepath.Join(dir, "out")
	a := writeImage(t, dir, "a.jpg", 200, 150)
	b := writeImage(t, dir, "b.png", 128, 128)

	out, err := execute(t, "compress", "--target", "4KB", "--max-attempts", "10", "-o", outDir, a, b)
	if err != nil {
		t.Fatalf("compress failed: %v\n%s", err, out)
	}

	for _, name := range []string{"a.jpg", "b.jpg"} {
		info, err := os.Stat(filepath.Join(outDir, name))
		if err != nil {
			t.Errorf("output %s missing: %v", name, err)
			continue
		}
		if info.Size() == 0 {
			t.Errorf("output %s is empty", name)
		}
	}
	if strings.Count(out, "OK") != 2 {
		t.Errorf("summary = %q", out)
	}
	if !strings.Contains(out, "2 file(s), target 4.0 kB") {
		t.Errorf("summary totals missing: %q", out)
	}
}

func TestCompress_UnderBudgetKeepsFormat(t *testing.T) {
	dir := t.TempDir()
	src := writeImage(t, dir, "tiny.png", 32, 32)

	if _, err := execute(t, "compress", "--target", "1MB", src); err != nil {
		t.Fatalf("compress failed: %v", err)
	}

	want, _ := os.ReadFile(src)
	got, err := os.ReadFile(filepath.Join(dir, "tiny.fit.png"))
	if err != nil {
		t.Fatalf("output missing: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Error("under-budget input was not copied unchanged")
	}
}

func TestCompress_Errors(t *testing.T) {
	dir := t.TempDir()
	src := writeImage(t, dir, "a.jpg", 64, 64)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"No files", []string{"compress"}, "requires at least 1 arg"},
		{"Bad target", []string{"compress", "--target", "huge", src}, "invalid --target"},
		{"Bad format", []string{"compress", "--format", "gif", src}, "unsupported"},
		{"Zero attempts", []string{"compress", "--max-attempts", "0", src}, "invalid --max-attempts"},
		{"Zero min quality", []string{"compress", "--min-quality", "0", src}, "invalid --min-quality"},
		{"Negative tolerance", []string{"compress", "--tolerance", "-0.5", src}, "invalid --tolerance"},
		{"Missing file", []string{"compress", filepath.Join(dir, "nope.jpg")}, "1 file(s) failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want it to contain %q", err, tt.want)
			}
		})
	}
}

func TestCompress_VerboseProgressLines(t *testing.T) {
	dir := t.TempDir()
	args := []string{"-v", "compress", "--target", "3KB", "-w", "4", "-o", filepath.Join(dir, "out")}
	for _, name := range []string{"a.jpg", "b.jpg", "c.png", "d.png"} {
		args = append(args, writeImage(t, dir, name, 128, 128))
	}

	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	if err := cmd.Execute(); err != nil {
		t.Fatalf("compress failed: %v\n%s", err, out.String())
	}

	progress := regexp.MustCompile(`^  [a-d]\.(jpg|png) +\d{1,3}%$`)
	var seen int
	for _, line := range strings.Split(strings.TrimRight(errOut.String(), "\n"), "\n") {
		if strings.HasPrefix(line, "  ") {
			seen++
			if !progress.MatchString(line) {
				t.Errorf("malformed progress line %q", line)
			}
		}
	}
	if seen == 0 {
		t.Error("no progress lines written")
	}
}

func TestSyncWriter_ConcurrentLines(t *testing.T) {
	var buf bytes.Buffer
	w := &syncWriter{w: &buf}

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				w.Write([]byte(strings.Repeat(string(rune('a'+g)), 32) + "\n"))
			}
		}(g)
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	if len(lines) != 8*200 {
		t.Fatalf("got %d lines, want %d", len(lines), 8*200)
	}
	for i, line := range lines {
		if len(line) != 32 || strings.Trim(line, line[:1]) != "" {
			t.Errorf("line %d interleaved: %q", i, line)
			break
		}
	}
}

func TestOutputPath(t *testing.T) {
	tests := []struct {
		input  string
		dir    string
		format string
		want   string
	}{
		{"photos/a.heic", "", "jpeg", filepath.Join("photos", "a.fit.jpg")},
		{"photos/a.heic", "out", "webp", filepath.Join("out", "a.webp")},
		{"b.png", "", "png", "b.fit.png"},
		{"c", "out", "jpeg", filepath.Join("out", "c.jpg")},
	}
	for _, tt := range tests {
		if got := outputPath(tt.input, tt.dir, tt.format); got != tt.want {
			t.Errorf("outputPath(%q, %q, %q) = %q, want %q", tt.input, tt.dir, tt.format, got, tt.want)
		}
	}
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "--version")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "fitsize "+version) {
		t.Errorf("version output = %q", out)
	}
}

package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/harliandi/go-fitsize/internal/config"
	"github.com/harliandi/go-fitsize/internal/converter"
	"github.com/harliandi/go-fitsize/internal/logger"
	"github.com/harliandi/go-fitsize/pkg/quality"
)

type compressOptions struct {
	*rootOptions
	target      string
	tolerance   float64
	maxAttempts int
	minQuality  float64
	maxQuality  float64
	rescale     bool
	format      string
	outDir      string
	workers     int
}

// fileResult is the outcome for one input path
type fileResult struct {
	path   string
	output string
	res    *converter.Result
	err    error
}

func newCompressCmd(root *rootOptions) *cobra.Command {
	opts := &compressOptions{rootOptions: root}

	cmd := &cobra.Command{
		Use:   "compress <file>...",
		Short: "Fit one or more images into a byte budget",
		Long: `Compresses each file toward --target bytes and writes the result
next to the input as <name>.fit.<ext>, or into --out when given.

Files already under the target are copied unchanged.`,
		Example: `  fitsize compress --target 200KB photo.heic
  fitsize compress -t 1MiB --format webp --rescale -o out/ *.png`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompress(cmd, opts, args)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.target, "target", "t", "", "target size such as 500KB or 1MiB (default from config)")
	f.Float64Var(&opts.tolerance, "tolerance", 0, "accepted relative deviation from the target")
	f.IntVar(&opts.maxAttempts, "max-attempts", 0, "encoder calls per image")
	f.Float64Var(&opts.minQuality, "min-quality", 0, "lowest quality to try, in (0, 1)")
	f.Float64Var(&opts.maxQuality, "max-quality", 0, "highest quality to try, in (0, 1]")
	f.BoolVar(&opts.rescale, "rescale", false, "shrink dimensions when the lowest quality is still too large")
	f.StringVarP(&opts.format, "format", "f", "", "output format: jpeg or webp")
	f.StringVarP(&opts.outDir, "out", "o", "", "output directory")
	f.IntVarP(&opts.workers, "workers", "w", 0, "parallel workers (0 = NumCPU)")
	return cmd
}

// buildOptions merges changed flags over the configured defaults
func buildOptions(cmd *cobra.Command, opts *compressOptions, cfg *config.Config) (converter.Options, error) {
	o := cfg.ConverterOptions()
	f := cmd.Flags()

	if opts.target != "" {
		n, err := humanize.ParseBytes(opts.target)
		if err != nil || n == 0 {
			return o, fmt.Errorf("invalid --target %q", opts.target)
		}
		o.TargetBytes = int64(n)
	}
	// a zero option means "use the default", so explicit zeros are refused
	if f.Changed("tolerance") {
		if !(opts.tolerance > 0) {
			return o, fmt.Errorf("invalid --tolerance %v: must be greater than 0", opts.tolerance)
		}
		o.Tolerance = opts.tolerance
	}
	if f.Changed("max-attempts") {
		if opts.maxAttempts < 1 {
			return o, fmt.Errorf("invalid --max-attempts %d: must be at least 1", opts.maxAttempts)
		}
		o.MaxAttempts = opts.maxAttempts
	}
	if f.Changed("min-quality") {
		if !(opts.minQuality > 0) {
			return o, fmt.Errorf("invalid --min-quality %v: must be greater than 0", opts.minQuality)
		}
		o.MinQuality = opts.minQuality
	}
	if f.Changed("max-quality") {
		if !(opts.maxQuality > 0) {
			return o, fmt.Errorf("invalid --max-quality %v: must be greater than 0", opts.maxQuality)
		}
		o.MaxQuality = opts.maxQuality
	}
	if f.Changed("rescale") {
		o.AllowRescale = opts.rescale
	}
	if opts.format != "" {
		enc, err := converter.NewEncoder(strings.ToLower(opts.format))
		if err != nil {
			return o, err
		}
		o.Format = enc.Format()
	}
	return o, nil
}

func runCompress(cmd *cobra.Command, opts *compressOptions, args []string) error {
	cfg, err := config.Load(opts.configFile)
	if err != nil {
		return err
	}
	copts, err := buildOptions(cmd, opts, cfg)
	if err != nil {
		return err
	}

	// log lines and progress lines share stderr across workers
	errOut := &syncWriter{w: cmd.ErrOrStderr()}
	logCfg := cfg.LoggerConfig()
	logCfg.JSON = false
	logCfg.Output = errOut
	if opts.verbose {
		logCfg.Level = "debug"
	} else {
		logCfg.Level = "warn"
	}
	log, err := logger.New(logCfg)
	if err != nil {
		return err
	}

	if opts.outDir != "" {
		if err := os.MkdirAll(opts.outDir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}

	workers := opts.workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	pool := converter.NewWorkerPool(converter.New(copts, log), workers)
	defer pool.Stop()

	start := time.Now()
	results := make([]fileResult, len(args))
	var wg sync.WaitGroup
	for i, path := range args {
		wg.Add(1)
		go func(i int, path string) {
			defer wg.Done()
			results[i] = compressFile(cmd, pool, copts, opts, log, errOut, path)
		}(i, path)
	}
	wg.Wait()

	return printSummary(cmd.OutOrStdout(), results, copts.TargetBytes, time.Since(start))
}

func compressFile(cmd *cobra.Command, pool *converter.WorkerPool, copts converter.Options,
	opts *compressOptions, log logrus.FieldLogger, errOut io.Writer, path string) fileResult {
	fr := fileResult{path: path}
	flog := logger.WithFile(log, path)

	data, err := os.ReadFile(path)
	if err != nil {
		fr.err = err
		return fr
	}

	if opts.verbose {
		name := filepath.Base(path)
		copts.Progress = quality.ProgressFunc(func(percent int) {
			fmt.Fprintf(errOut, "  %s %3d%%\n", name, percent)
		})
	}

	res, err := pool.SubmitWait(cmd.Context(), data, copts)
	if err != nil {
		flog.WithError(err).Debug("compression failed")
		fr.err = err
		return fr
	}
	fr.res = res

	fr.output = outputPath(path, opts.outDir, res.Format)
	if filepath.Clean(fr.output) == filepath.Clean(path) {
		fr.err = fmt.Errorf("refusing to overwrite input %s", path)
		return fr
	}
	if err := os.WriteFile(fr.output, res.Data, 0o644); err != nil {
		fr.err = fmt.Errorf("write output: %w", err)
	}
	return fr
}

// syncWriter serializes writes so each line from a goroutine lands whole
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

// outputPath names the output for input, placed in dir when set
func outputPath(input, dir, format string) string {
	base := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	ext := "." + format
	if format == converter.FormatJPEG {
		ext = ".jpg"
	}
	if dir == "" {
		return filepath.Join(filepath.Dir(input), base+".fit"+ext)
	}
	return filepath.Join(dir, base+ext)
}

func printSummary(w io.Writer, results []fileResult, target int64, elapsed time.Duration) error {
	var failed int
	var totalIn, totalOut uint64
	for _, fr := range results {
		if fr.err != nil {
			failed++
			fmt.Fprintf(w, "FAIL  %s: %v\n", fr.path, fr.err)
			continue
		}
		r := fr.res
		totalIn += uint64(r.OriginalSize)
		totalOut += uint64(len(r.Data))
		fmt.Fprintf(w, "OK    %s -> %s  %s -> %s  [%s, %d attempts, q=%d, scale=%.2f, %dx%d]\n",
			fr.path, fr.output,
			humanize.Bytes(uint64(r.OriginalSize)), humanize.Bytes(uint64(len(r.Data))),
			r.Reason, r.Attempts, converter.QualityPercent(r.Quality), r.Scale, r.Width, r.Height)
	}

	fmt.Fprintf(w, "\n%d file(s), target %s, %s -> %s in %s\n",
		len(results), humanize.Bytes(uint64(target)),
		humanize.Bytes(totalIn), humanize.Bytes(totalOut), elapsed.Round(time.Millisecond))

	if failed > 0 {
		return errors.New(humanize.Comma(int64(failed)) + " file(s) failed")
	}
	return nil
}

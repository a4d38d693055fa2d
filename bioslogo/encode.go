package bioslogo

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
)

// Anything that can turn a source image into an encoded file of exactly
// width x height at the given quality. Implementations must not leave a
// partial dst behind on failure.
type Encoder interface {
	Encode(ctx context.Context, src string, dst string, width int, height int, quality int, format Format) error
}

type Budget struct {
	Target    int     // Byte length we want (the original payload length)
	Tolerance float64 // Fraction of Target; past this we warn (but continue)
}

func (b Budget) Exceeded(size int) bool {
	return math.Abs(float64(size-b.Target)) > b.Tolerance*float64(b.Target)
}

type Candidate struct {
	Quality int
	Size    int
}

func (c Candidate) Diff(target int) int {
	d := c.Size - target
	if d < 0 {
		return -d
	}
	return d
}

type EncodeRequest struct {
	Source     string // Image to convert
	Output     string // Where the final encoded payload goes
	Width      int
	Height     int
	Format     Format
	MinQuality int
	MaxQuality int
	Iterations int    // Max number of trial encodes (not counting the final one)
	Workdir    string // Scratch directory for trials (system temp if empty)
}

type EncodeResult struct {
	Data              []byte `json:"-"`
	Output            string
	Quality           int
	Size              int
	Budget            int
	Difference        int
	Trials            int // Trials attempted
	Completed         int // Trials that produced output
	ExactMatch        bool
	ToleranceExceeded bool
}

func (r *EncodeRequest) defaults() {
	if r.MinQuality < DefaultMinQuality {
		r.MinQuality = DefaultMinQuality
	}
	if r.MaxQuality == 0 || r.MaxQuality > DefaultMaxQuality {
		r.MaxQuality = DefaultMaxQuality
	}
	if r.Iterations == 0 || r.Iterations > DefaultIterations {
		r.Iterations = DefaultIterations
	}
}

// Run one encode and report the output size. Output that doesn't exist after
// a "successful" run counts as a failure
func encodeTrial(ctx context.Context, enc Encoder, req *EncodeRequest, dst string, quality int) (int, error) {
	os.Remove(dst)
	err := enc.Encode(ctx, req.Source, dst, req.Width, req.Height, quality, req.Format)
	if err != nil {
		return 0, err
	}
	stat, err := os.Stat(dst)
	if err != nil {
		return 0, fmt.Errorf("Encoder left no output: %w", err)
	}
	return int(stat.Size()), nil
}

// Binary search the encoder quality so the output size lands as close to the
// budget as possible. Output size only roughly increases with quality, so the
// best candidate seen is tracked rather than trusting the search to converge.
// Failed trials are skipped; only a search with zero completed trials fails.
func MatchSize(ctx context.Context, enc Encoder, req EncodeRequest, budget Budget) (*EncodeResult, error) {
	req.defaults()
	if req.Width <= 0 || req.Height <= 0 {
		return nil, fmt.Errorf("Bad target dimensions %dx%d", req.Width, req.Height)
	}
	if budget.Target <= 0 {
		return nil, fmt.Errorf("Bad size budget %d", budget.Target)
	}

	workdir, err := os.MkdirTemp(req.Workdir, "logo-trials-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(workdir)
	trialPath := filepath.Join(workdir, "trial"+req.Format.Extension())

	result := EncodeResult{Budget: budget.Target, Output: req.Output}
	var best *Candidate
	var lastErr error
	lo, hi := req.MinQuality, req.MaxQuality

	for result.Trials < req.Iterations && lo <= hi {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		mid := (lo + hi) / 2
		result.Trials++
		size, err := encodeTrial(ctx, enc, &req, trialPath, mid)
		if err != nil {
			logger.Warnf("Trial %d (quality %d) failed, skipping: %s", result.Trials, mid, err)
			lastErr = err
			lo = mid + 1
			continue
		}
		result.Completed++
		c := Candidate{Quality: mid, Size: size}
		logger.Debugf("Trial %d: quality %d -> %d bytes (target %d)", result.Trials, mid, size, budget.Target)
		if best == nil || c.Diff(budget.Target) < best.Diff(budget.Target) {
			best = &c
		}
		if !req.Format.Lossy() {
			// Quality does nothing for these; another trial would be the same size
			break
		}
		if size > budget.Target {
			hi = mid - 1
		} else if size < budget.Target {
			lo = mid + 1
		} else {
			break
		}
	}

	if best == nil {
		return nil, &EncodeFailedError{Trials: result.Trials, Err: lastErr}
	}

	// The trials are thrown away; make the real thing at the best quality
	final := filepath.Join(workdir, "final"+req.Format.Extension())
	size, err := encodeTrial(ctx, enc, &req, final, best.Quality)
	if err != nil {
		return nil, &EncodeFailedError{Trials: result.Trials + 1, Err: err}
	}
	result.Data, err = os.ReadFile(final)
	if err != nil {
		return nil, err
	}
	if req.Output != "" {
		if err = WriteFileAtomic(req.Output, result.Data, 0644); err != nil {
			return nil, err
		}
	}
	result.Quality = best.Quality
	result.Size = size
	result.Difference = size - budget.Target
	result.ExactMatch = size == budget.Target
	result.ToleranceExceeded = budget.Exceeded(size)
	logger.Infof("Encoded logo: %d bytes at quality %d (target %d, difference %+d, %d/%d trials ok)",
		size, best.Quality, budget.Target, result.Difference, result.Completed, result.Trials)
	if result.ToleranceExceeded {
		logger.Warnf("Size differs from original by more than %.0f%% (%d vs %d bytes). The logo may not "+
			"display, though firmware usually falls back to its built-in default", budget.Tolerance*100,
			size, budget.Target)
	}
	return &result, nil
}

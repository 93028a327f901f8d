package cli

import (
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/schollz/progressbar/v3"

	"github.com/Veraticus/invoice-match/internal/engine"
	"github.com/Veraticus/invoice-match/internal/model"
)

// ChunkProgress draws a progress bar across the chunks of a run.
type ChunkProgress struct {
	writer io.Writer
	bar    *progressbar.ProgressBar
	failed int
	mu     sync.Mutex
}

// NewChunkProgress creates a progress display writing to w.
func NewChunkProgress(w io.Writer) *ChunkProgress {
	return &ChunkProgress{writer: w}
}

// Func returns the callback to register with engine.WithProgress.
func (p *ChunkProgress) Func() engine.ProgressFunc {
	return p.update
}

func (p *ChunkProgress) update(progress engine.Progress) {
	p.mu.Lock()
	defer p.mu.Unlock()

	// The chunk count is only known once the run has planned its chunks.
	if p.bar == nil {
		p.bar = progressbar.NewOptions(progress.Total,
			progressbar.OptionSetWriter(p.writer),
			progressbar.OptionEnableColorCodes(true),
			progressbar.OptionShowCount(),
			progressbar.OptionShowElapsedTimeOnFinish(),
			progressbar.OptionSetWidth(40),
			progressbar.OptionSetDescription("[cyan][bold]Scoring chunks...[reset]"),
			progressbar.OptionSetTheme(progressbar.Theme{
				Saucer:        "[green]=[reset]",
				SaucerHead:    "[green]>[reset]",
				SaucerPadding: " ",
				BarStart:      "[",
				BarEnd:        "]",
			}),
			progressbar.OptionOnCompletion(func() {
				if _, err := fmt.Fprintln(p.writer); err != nil {
					slog.Warn("Failed to write newline after progress bar", "error", err)
				}
			}),
		)
	}

	if progress.Result.Status != model.ChunkCompleted {
		p.failed++
		p.bar.Describe(fmt.Sprintf("[yellow]Scoring chunks (%d not completed)...[reset]", p.failed))
	}
	if err := p.bar.Set(progress.Completed); err != nil {
		slog.Warn("Failed to update progress bar", "error", err)
	}
}

// Finish completes the bar. It is safe to call when no chunk was reported.
func (p *ChunkProgress) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bar == nil || p.bar.IsFinished() {
		return
	}
	if err := p.bar.Finish(); err != nil {
		slog.Warn("Failed to finish progress bar", "error", err)
	}
}

// NotCompleted returns how many reported chunks did not complete.
func (p *ChunkProgress) NotCompleted() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failed
}

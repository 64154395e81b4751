// Package memory provides a scripted recognition engine for tests and
// deployments without Vision credentials.
package memory

import (
	"context"

	"recus/internal/ocr"
)

// Engine replays a fixed text (or error) and emits a synthetic
// progress ramp, so callers exercise the same event sequence the real
// engine produces.
type Engine struct {
	Text string
	Err  error
}

var _ ocr.Engine = (*Engine)(nil)

func New(text string) *Engine {
	return &Engine{Text: text}
}

func (e *Engine) Recognize(ctx context.Context, _ []byte, _ string, progress ocr.ProgressFunc) (string, error) {
	if progress != nil {
		progress(ocr.PhasePrepare, 0)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if e.Err != nil {
		return "", e.Err
	}
	if progress != nil {
		progress(ocr.PhaseRecognize, 0.5)
		progress(ocr.PhaseDone, 1)
	}
	return e.Text, nil
}

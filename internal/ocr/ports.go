// Package ocr defines the recognition port. The core never looks at
// pixels; it hands an image to an Engine and consumes the text.
package ocr

import "context"

// Recognition phases reported through ProgressFunc.
const (
	PhasePrepare   = "prepare"
	PhaseRecognize = "recognize"
	PhaseDone      = "done"
)

// ProgressFunc receives (phase, fractional progress in [0,1]) events
// while recognition runs. Implementations call it from the recognizing
// goroutine; it must not block on rendering.
type ProgressFunc func(phase string, progress float64)

// Engine recognizes text on a receipt photo. lang is a hint such as
// "fra". Recognition cannot be cancelled mid-call beyond ctx; the user
// can only discard the resulting draft.
type Engine interface {
	Recognize(ctx context.Context, image []byte, lang string, progress ProgressFunc) (string, error)
}

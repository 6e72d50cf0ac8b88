package predictor

import "errors"

// Predictor errors.
var (
	ErrModelCorrupt      = errors.New("optimal time model is corrupt")
	ErrInsufficientData  = errors.New("not enough training samples")
	ErrTrainingDiverged  = errors.New("training produced non-finite weights")
	ErrModelNotAvailable = errors.New("no trained model")
)

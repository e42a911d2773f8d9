package contracts

import "errors"

var (
	// ErrInsufficientData means a bar series is too short for the requested window
	ErrInsufficientData = errors.New("insufficient data")
	// ErrNoOverlap means a feature vector shares no feature with the template
	ErrNoOverlap = errors.New("no feature overlap with template")
	// ErrNotFound is returned by repositories for missing rows
	ErrNotFound = errors.New("not found")
)

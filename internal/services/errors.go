package services

import "errors"

// Service errors
var (
	// pipeline errors
	ErrRunInProgress = errors.New("a pipeline run is already in progress")
	ErrRunNotFound   = errors.New("pipeline run not found")

	// panel errors
	ErrPanelNotFound = errors.New("final panel not found: run the pipeline first")

	// General errors
	ErrInvalidInput = errors.New("invalid input")
	ErrShuttingDown = errors.New("service is shutting down")
)

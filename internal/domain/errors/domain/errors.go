// Package domain provides domain-specific error definitions and utilities.
package domain

import "errors"

// Job-related errors.
var (
	ErrJobNotFound       = errors.New("generation job not found")
	ErrJobNotRestartable = errors.New("job is not in a restartable state")
	ErrItemNotFound      = errors.New("question item not found")
)

// Taxonomy-related errors.
var (
	ErrTopicNotFound   = errors.New("topic not found")
	ErrSubjectNotFound = errors.New("subject not found")
	ErrChapterNotFound = errors.New("chapter not found")
)

// General domain errors.
var (
	ErrValidation   = errors.New("validation failed")
	ErrInvalidInput = errors.New("invalid input")
)

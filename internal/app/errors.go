// Package app holds the conversational engine: sessions, the knowledge
// index, retrieval planning, context assembly and answer generation.
package app

import "errors"

var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrDocumentNotFound = errors.New("document not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrGenerationFailed = errors.New("answer generation failed")
	ErrMessageEnqueue   = errors.New("enqueue message for persistence failed")
)

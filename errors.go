// Package oramacore - errors.go
// Defines client and session specific errors.

package oramacore

import "errors"

var (
	ErrNoCollection    = errors.New("no collection selected, call SetCollection first")
	ErrNoReadAPIKey    = errors.New("cannot perform read operation, no read API key set")
	ErrNoWriteAPIKey   = errors.New("cannot perform write operation, no write API key set")
	ErrNoMasterAPIKey  = errors.New("cannot perform management operation, no master API key set")
	ErrMissingID       = errors.New("please provide a collection ID")
	ErrNoRequestActive = errors.New("no answer request in flight")
	ErrNoInteractions  = errors.New("no interaction to regenerate")
	ErrNotAnAnswer     = errors.New("last message is not an assistant turn")
)

package service

import (
	"errors"
	"fmt"
)

// Admission errors: rejected before any resource is allocated.
var (
	ErrRateLimited = errors.New("rate limit exceeded")
	ErrQueueFull   = errors.New("queue is full, retry later")
)

// Validation errors: terminal, never retried.
var (
	ErrSizeExceeded     = errors.New("cumulative size exceeds declared size or plan limit")
	ErrChunkCountRange  = errors.New("chunk count out of range")
	ErrChunkIndexRange  = errors.New("chunk index out of range")
	ErrUploadNotFound   = errors.New("upload session not found")
	ErrJobNotFound      = errors.New("job not found")
	ErrBatchNotFound    = errors.New("batch not found")
	ErrNotOwner         = errors.New("not the owner of this resource")
	ErrJobNotCompleted  = errors.New("job not completed")
	ErrInvalidToolType  = errors.New("invalid tool type")
	ErrDurationExceeded = errors.New("media duration exceeds plan limit")
)

// MissingChunkError reports the first absent chunk index at completion.
type MissingChunkError struct {
	Index int
}

func (e *MissingChunkError) Error() string {
	return fmt.Sprintf("missing chunk %d", e.Index)
}

// IsMissingChunk extracts a MissingChunkError, if err is one.
func IsMissingChunk(err error) (*MissingChunkError, bool) {
	var mc *MissingChunkError
	if errors.As(err, &mc) {
		return mc, true
	}
	return nil, false
}

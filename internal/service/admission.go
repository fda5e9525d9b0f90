package service

import (
	"context"
	"fmt"
	"log"

	"github.com/guntupalli09/videotools-sub000/internal/config"
	"github.com/guntupalli09/videotools-sub000/internal/store"
)

// Admission gates new work before any resource is allocated: a per-identity
// upload window and global backlog thresholds protecting the worker pool.
type Admission struct {
	store store.Store
	cfg   config.AdmissionConfig
}

// NewAdmission creates the admission controller.
func NewAdmission(s store.Store, cfg config.AdmissionConfig) *Admission {
	return &Admission{store: s, cfg: cfg}
}

// CheckAndRecordUpload counts one upload attempt for the identity and returns
// ErrRateLimited once the window cap is exceeded. Store failures fail open: an
// unreachable limiter should not take uploads down with it.
func (a *Admission) CheckAndRecordUpload(ctx context.Context, identity string) error {
	key := fmt.Sprintf("ratelimit:upload:%s", identity)

	count, err := a.store.Incr(ctx, key)
	if err != nil {
		log.Printf("[Admission] rate limit store error for %s: %v", identity, err)
		return nil
	}
	if count == 1 {
		if err := a.store.Expire(ctx, key, a.cfg.Window); err != nil {
			log.Printf("[Admission] failed to set window expiry for %s: %v", identity, err)
		}
	}

	if count > int64(a.cfg.UploadsPerWindow) {
		return ErrRateLimited
	}
	return nil
}

// AtSoftLimit reports whether backlog depth rejects bulk submissions.
// Single-item work is still admitted at the soft limit.
func (a *Admission) AtSoftLimit(depth int64) bool {
	return depth >= a.cfg.SoftQueueLimit
}

// AtHardLimit reports whether backlog depth rejects all new submissions.
func (a *Admission) AtHardLimit(depth int64) bool {
	return depth >= a.cfg.HardQueueLimit
}

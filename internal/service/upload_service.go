package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/guntupalli09/videotools-sub000/internal/config"
	"github.com/guntupalli09/videotools-sub000/internal/model"
	"github.com/guntupalli09/videotools-sub000/internal/store"
)

// UploadService reassembles chunked uploads. Sessions are single use: a
// successful Complete deletes the chunk artifacts and the session, then
// submits the job the upload was destined for. Abandoned sessions expire via
// store TTL and the orphan sweep.
type UploadService struct {
	store store.Store
	jobs  *JobService
	cfg   *config.Config

	// Serializes concurrent chunk puts per upload session.
	locks sync.Map // uploadID → *sync.Mutex
}

// NewUploadService creates the upload assembler.
func NewUploadService(s store.Store, jobs *JobService, cfg *config.Config) *UploadService {
	return &UploadService{store: s, jobs: jobs, cfg: cfg}
}

func sessionKey(uploadID string) string {
	return fmt.Sprintf("upload:%s", uploadID)
}

func (s *UploadService) chunkDir(uploadID string) string {
	return filepath.Join(s.cfg.Server.WorkDir, "uploads", uploadID)
}

func (s *UploadService) chunkPath(uploadID string, index int) string {
	return filepath.Join(s.chunkDir(uploadID), fmt.Sprintf("chunk_%05d", index))
}

// Init opens a new upload session after validating the declared shape
// against the caller's plan.
func (s *UploadService) Init(ctx context.Context, ownerID string, tier model.PlanTier, req *model.UploadInitRequest) (*model.UploadInitResponse, error) {
	if !model.IsValidToolType(req.Tool) {
		return nil, ErrInvalidToolType
	}
	if req.TotalChunks < 1 || req.TotalChunks > s.cfg.Upload.MaxChunks {
		return nil, ErrChunkCountRange
	}
	plan := s.cfg.Plan(tier)
	if req.TotalSize > plan.FileSizeLimit {
		return nil, ErrSizeExceeded
	}

	sess := &model.UploadSession{
		UploadID:     uuid.New().String(),
		OwnerID:      ownerID,
		Tier:         tier,
		FileName:     req.FileName,
		DeclaredSize: req.TotalSize,
		TotalChunks:  req.TotalChunks,
		Chunks:       make(map[int]int64),
		Tool:         req.Tool,
		Options:      req.Options,
		WebhookURL:   req.WebhookURL,
		CreatedAt:    time.Now(),
	}

	if err := os.MkdirAll(s.chunkDir(sess.UploadID), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create chunk dir: %w", err)
	}
	if err := s.saveSession(ctx, sess); err != nil {
		return nil, err
	}

	return &model.UploadInitResponse{
		UploadID:    sess.UploadID,
		TotalChunks: sess.TotalChunks,
	}, nil
}

// PutChunk stores one chunk. Cumulative bytes are checked on every put so an
// oversize upload fails fast, not only at completion.
func (s *UploadService) PutChunk(ctx context.Context, ownerID, uploadID string, index int, data []byte) error {
	unlock := s.lock(uploadID)
	defer unlock()

	sess, err := s.getSession(ctx, uploadID)
	if err != nil {
		return err
	}
	if sess.OwnerID != ownerID {
		return ErrNotOwner
	}
	if index < 0 || index >= sess.TotalChunks {
		return ErrChunkIndexRange
	}

	plan := s.cfg.Plan(sess.Tier)
	prev := sess.Chunks[index]
	cumulative := sess.ReceivedBytes - prev + int64(len(data))
	if cumulative > sess.DeclaredSize || cumulative > plan.FileSizeLimit {
		return ErrSizeExceeded
	}

	if err := os.WriteFile(s.chunkPath(uploadID, index), data, 0o644); err != nil {
		return fmt.Errorf("failed to write chunk %d: %w", index, err)
	}

	sess.Chunks[index] = int64(len(data))
	sess.ReceivedBytes = cumulative
	return s.saveSession(ctx, sess)
}

// Complete verifies every chunk arrived, reassembles them in index order into
// a single file, hashes the content and submits the job. Chunk artifacts and
// the session are discarded on success.
func (s *UploadService) Complete(ctx context.Context, ownerID, uploadID string) (*model.UploadCompleteResponse, error) {
	unlock := s.lock(uploadID)
	defer unlock()

	sess, err := s.getSession(ctx, uploadID)
	if err != nil {
		return nil, err
	}
	if sess.OwnerID != ownerID {
		return nil, ErrNotOwner
	}

	for i := 0; i < sess.TotalChunks; i++ {
		if _, ok := sess.Chunks[i]; !ok {
			return nil, &MissingChunkError{Index: i}
		}
	}

	assembledPath, contentHash, err := s.assemble(sess)
	if err != nil {
		return nil, err
	}

	resp, err := s.jobs.SubmitUpload(ctx, sess, assembledPath, contentHash)
	if err != nil {
		return nil, err
	}

	if err := os.RemoveAll(s.chunkDir(uploadID)); err != nil {
		log.Printf("[Upload] failed to remove chunk dir for %s: %v", uploadID, err)
	}
	if err := s.store.Delete(ctx, sessionKey(uploadID)); err != nil {
		log.Printf("[Upload] failed to delete session %s: %v", uploadID, err)
	}
	s.locks.Delete(uploadID)

	return resp, nil
}

// assemble concatenates chunks in index order, enforcing the declared size
// and plan limit while copying, and computes the content digest in the same
// pass.
func (s *UploadService) assemble(sess *model.UploadSession) (string, string, error) {
	mediaDir := filepath.Join(s.cfg.Server.WorkDir, "media")
	if err := os.MkdirAll(mediaDir, 0o755); err != nil {
		return "", "", fmt.Errorf("failed to create media dir: %w", err)
	}

	outName := fmt.Sprintf("%s_%s", uuid.New().String()[:8], SanitizeFileName(sess.FileName))
	outPath := filepath.Join(mediaDir, outName)

	out, err := os.Create(outPath)
	if err != nil {
		return "", "", fmt.Errorf("failed to create assembled file: %w", err)
	}
	defer out.Close()

	hasher := sha256.New()
	w := io.MultiWriter(out, hasher)
	plan := s.cfg.Plan(sess.Tier)

	var written int64
	for i := 0; i < sess.TotalChunks; i++ {
		chunk, err := os.Open(s.chunkPath(sess.UploadID, i))
		if err != nil {
			os.Remove(outPath)
			return "", "", &MissingChunkError{Index: i}
		}

		n, err := io.Copy(w, chunk)
		chunk.Close()
		if err != nil {
			os.Remove(outPath)
			return "", "", fmt.Errorf("failed to copy chunk %d: %w", i, err)
		}

		written += n
		if written > sess.DeclaredSize || written > plan.FileSizeLimit {
			os.Remove(outPath)
			return "", "", ErrSizeExceeded
		}
	}

	return outPath, hex.EncodeToString(hasher.Sum(nil)), nil
}

// SweepOrphans removes chunk directories whose sessions have expired. The
// assembler must tolerate never receiving Complete.
func (s *UploadService) SweepOrphans(ctx context.Context) {
	root := filepath.Join(s.cfg.Server.WorkDir, "uploads")
	entries, err := os.ReadDir(root)
	if err != nil {
		return
	}

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := s.getSession(ctx, e.Name()); err == ErrUploadNotFound {
			info, err := e.Info()
			if err != nil || time.Since(info.ModTime()) < s.cfg.Upload.SessionTTL {
				continue
			}
			if err := os.RemoveAll(filepath.Join(root, e.Name())); err != nil {
				log.Printf("[Upload] sweep failed for %s: %v", e.Name(), err)
			} else {
				log.Printf("[Upload] swept orphaned chunks for %s", e.Name())
			}
		}
	}
}

func (s *UploadService) lock(uploadID string) func() {
	v, _ := s.locks.LoadOrStore(uploadID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func (s *UploadService) saveSession(ctx context.Context, sess *model.UploadSession) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	return s.store.Set(ctx, sessionKey(sess.UploadID), data, s.cfg.Upload.SessionTTL)
}

func (s *UploadService) getSession(ctx context.Context, uploadID string) (*model.UploadSession, error) {
	data, err := s.store.Get(ctx, sessionKey(uploadID))
	if err != nil {
		if err == store.ErrNotFound {
			return nil, ErrUploadNotFound
		}
		return nil, err
	}

	var sess model.UploadSession
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

// SanitizeFileName strips path separators and anything outside a safe
// character set so assembled names cannot escape the media directory.
func SanitizeFileName(name string) string {
	base := filepath.Base(name)
	var b strings.Builder
	for _, r := range base {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' || r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := b.String()
	if out == "" || strings.Trim(out, "._") == "" {
		out = "upload.bin"
	}
	return out
}

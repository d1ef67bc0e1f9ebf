package upload

import (
	"context"
	"errors"
	"time"

	"github.com/dharsanguruparan/ChunkDrop/internal/model"
)

const (
	reasonExpired     = "expired"
	reasonInterrupted = "completion interrupted"
)

// SweepResult counts what ExpireStale changed.
type SweepResult struct {
	Expired     int `json:"expired"`
	Interrupted int `json:"interrupted"`
	Recovered   int `json:"recovered"`
	Skipped     int `json:"skipped"`
}

// ExpireStale fails in-progress sessions idle for longer than olderThan.
// Unclaimed sessions are aborted at the store first. Sessions left claimed by
// a crashed completion become COMPLETED when their record exists and FAILED
// otherwise.
func (s *Service) ExpireStale(ctx context.Context, olderThan time.Duration, limit int) (SweepResult, error) {
	var res SweepResult
	stale, err := s.sessions.ListStale(ctx, s.now().Add(-olderThan), limit)
	if err != nil {
		return res, metadataError("", "list stale sessions", err)
	}
	for _, session := range stale {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if session.Completing {
			s.resolveInterrupted(ctx, session, &res)
			continue
		}
		if err := s.store.AbortMultipart(ctx, session.BucketName, session.ObjectKey, session.UploadID); err != nil && !isStoreNotFound(err) {
			s.logger.Warn("abort stale upload", "upload_id", session.UploadID, "error", err)
			res.Skipped++
			continue
		}
		if _, err := s.sessions.Transition(ctx, session.UploadID, model.StatusFailed, reasonExpired); err != nil {
			if !errors.Is(err, model.ErrConflict) {
				s.logger.Error("expire session", "upload_id", session.UploadID, "error", err)
			}
			res.Skipped++
			continue
		}
		s.observer.SessionFinished(reasonExpired)
		res.Expired++
	}
	if res.Expired+res.Interrupted+res.Recovered > 0 {
		s.logger.Info("stale sessions swept", "expired", res.Expired, "interrupted", res.Interrupted,
			"recovered", res.Recovered, "skipped", res.Skipped)
	}
	return res, nil
}

func (s *Service) resolveInterrupted(ctx context.Context, session *model.UploadSession, res *SweepResult) {
	status, reason := model.StatusFailed, reasonInterrupted
	rec, err := s.files.FindFile(ctx, session.OwnerEntityID, session.FileName)
	switch {
	case err == nil && rec.ObjectKey == session.ObjectKey:
		status, reason = model.StatusCompleted, ""
	case err != nil && !errors.Is(err, model.ErrNotFound):
		s.logger.Error("inspect interrupted completion", "upload_id", session.UploadID, "error", err)
		res.Skipped++
		return
	}
	if _, err := s.sessions.FinishCompletion(ctx, session.UploadID, status, reason); err != nil {
		res.Skipped++
		return
	}
	s.observer.SessionFinished(outcomeFor(status))
	if status == model.StatusCompleted {
		res.Recovered++
	} else {
		res.Interrupted++
	}
}

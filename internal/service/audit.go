package service

import (
	"context"
	"fmt"
	"strings"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/store"
)

// StartSession opens a new stock-count session for the calling user in
// scan mode.
func (s *Service) StartSession(ctx context.Context, req domain.AuditSessionCreateRequest) (*domain.AuditSessionResponse, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return nil, fmt.Errorf("authenticated user required: %w", ErrForbidden)
	}

	name := strings.TrimSpace(req.SessionName)
	if name == "" {
		return nil, store.ErrInvalid
	}

	now := s.now()
	created, err := s.repo.CreateAuditSession(ctx, domain.AuditSession{
		Username:    actor.Username,
		SessionName: name,
		AuditMode:   domain.AuditModeScan,
		StartTime:   now,
		ScannedData: map[string]int{},
		CreatedAt:   now,
	})
	if err != nil {
		return nil, err
	}

	s.logAction(ctx, "audit_start", "audit_session", formatID(created.ID), fmt.Sprintf("name=%s", name))
	return s.sessionResponse(created), nil
}

// ownedSession loads the session and enforces per-user scoping. Other
// users' sessions are reported as not found rather than forbidden.
func (s *Service) ownedSession(ctx context.Context, id int64) (*domain.AuditSession, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return nil, fmt.Errorf("authenticated user required: %w", ErrForbidden)
	}

	session, err := s.repo.GetAuditSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if session.Username != actor.Username {
		return nil, store.ErrNotFound
	}
	return session, nil
}

func (s *Service) PauseSession(ctx context.Context, id int64) (*domain.AuditSessionResponse, error) {
	session, err := s.ownedSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if session.AuditMode != domain.AuditModeScan {
		return nil, store.ErrInvalid
	}

	now := s.now()
	session.AuditMode = domain.AuditModePaused
	session.IsPaused = true
	session.PauseTime = &now

	saved, err := s.repo.UpdateAuditSession(ctx, *session)
	if err != nil {
		return nil, err
	}
	s.logAction(ctx, "audit_pause", "audit_session", formatID(id), "")
	return s.sessionResponse(saved), nil
}

func (s *Service) ResumeSession(ctx context.Context, id int64) (*domain.AuditSessionResponse, error) {
	session, err := s.ownedSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if session.AuditMode != domain.AuditModePaused || session.PauseTime == nil {
		return nil, store.ErrInvalid
	}

	now := s.now()
	session.TotalPauseSeconds += int64(now.Sub(*session.PauseTime).Seconds())
	session.PauseTime = nil
	session.IsPaused = false
	session.AuditMode = domain.AuditModeScan

	saved, err := s.repo.UpdateAuditSession(ctx, *session)
	if err != nil {
		return nil, err
	}
	s.logAction(ctx, "audit_resume", "audit_session", formatID(id), "")
	return s.sessionResponse(saved), nil
}

// RecordScan bumps the tally for one barcode. Only permitted while the
// session is actively scanning.
func (s *Service) RecordScan(ctx context.Context, id int64, req domain.AuditScanRequest) (*domain.AuditSessionResponse, error) {
	barcode := strings.TrimSpace(req.Barcode)
	if barcode == "" {
		return nil, store.ErrInvalid
	}

	session, err := s.ownedSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if session.AuditMode != domain.AuditModeScan {
		return nil, store.ErrInvalid
	}

	if session.ScannedData == nil {
		session.ScannedData = map[string]int{}
	}
	session.ScannedData[barcode]++

	saved, err := s.repo.UpdateAuditSession(ctx, *session)
	if err != nil {
		return nil, err
	}
	return s.sessionResponse(saved), nil
}

// CompleteSession closes the session for good. Time spent in a pending
// pause is folded into the pause total first, so the frozen elapsed
// value counts active scanning time only.
func (s *Service) CompleteSession(ctx context.Context, id int64) (*domain.AuditSessionResponse, error) {
	session, err := s.ownedSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if session.AuditMode == domain.AuditModeCompleted {
		return nil, store.ErrInvalid
	}

	now := s.now()
	if session.IsPaused && session.PauseTime != nil {
		session.TotalPauseSeconds += int64(now.Sub(*session.PauseTime).Seconds())
		session.PauseTime = nil
		session.IsPaused = false
	}
	session.AuditMode = domain.AuditModeCompleted
	session.EndTime = &now

	saved, err := s.repo.UpdateAuditSession(ctx, *session)
	if err != nil {
		return nil, err
	}
	s.logAction(ctx, "audit_complete", "audit_session", formatID(id), fmt.Sprintf("scanned=%d", len(saved.ScannedData)))
	return s.sessionResponse(saved), nil
}

func (s *Service) GetSession(ctx context.Context, id int64) (*domain.AuditSessionResponse, error) {
	session, err := s.ownedSession(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.sessionResponse(session), nil
}

func (s *Service) ListSessions(ctx context.Context) ([]domain.AuditSession, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return nil, fmt.Errorf("authenticated user required: %w", ErrForbidden)
	}
	return s.repo.ListAuditSessions(ctx, actor.Username)
}

func (s *Service) DeleteSession(ctx context.Context, id int64) error {
	if _, err := s.ownedSession(ctx, id); err != nil {
		return err
	}
	if err := s.repo.DeleteAuditSession(ctx, id); err != nil {
		return err
	}
	s.logAction(ctx, "audit_delete", "audit_session", formatID(id), "")
	return nil
}

func (s *Service) sessionResponse(session *domain.AuditSession) *domain.AuditSessionResponse {
	return &domain.AuditSessionResponse{
		Session:        *session,
		ElapsedSeconds: s.elapsedSeconds(session),
	}
}

// elapsedSeconds is active time: wall clock since start minus pauses.
// A paused session reads as of its pause instant; a completed session
// is frozen at its end instant.
func (s *Service) elapsedSeconds(session *domain.AuditSession) int64 {
	ref := s.now()
	switch {
	case session.AuditMode == domain.AuditModeCompleted && session.EndTime != nil:
		ref = *session.EndTime
	case session.IsPaused && session.PauseTime != nil:
		ref = *session.PauseTime
	}

	elapsed := int64(ref.Sub(session.StartTime).Seconds()) - session.TotalPauseSeconds
	if elapsed < 0 {
		elapsed = 0
	}
	return elapsed
}

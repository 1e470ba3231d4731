package store

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/teamloop/teamloop/errs"
	"github.com/teamloop/teamloop/types"
	"gorm.io/gorm"
)

func (s *GormStore) CreateSession(ctx context.Context, session *types.CodeSession) error {
	return s.db.WithContext(ctx).Create(session).Error
}

func (s *GormStore) GetSession(ctx context.Context, id string) (*types.CodeSession, error) {
	session := types.CodeSession{}
	err := s.db.WithContext(ctx).First(&session, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errs.NotFound("session %s not found", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "could not get session")
	}
	return &session, nil
}

func (s *GormStore) GetSessionByInviteCode(ctx context.Context, code string) (*types.CodeSession, error) {
	session := types.CodeSession{}
	err := s.db.WithContext(ctx).First(&session, "invite_code = ?", code).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errs.NotFound("invalid invite code")
	}
	if err != nil {
		return nil, errors.Wrap(err, "could not look up invite code")
	}
	return &session, nil
}

// GetSessionsForUser lists sessions the user owns or participates in, newest
// first.
func (s *GormStore) GetSessionsForUser(ctx context.Context, userId string, page, limit int) ([]*types.CodeSession, error) {
	offset, limit := pageBounds(page, limit)
	all := make([]*types.CodeSession, 0)
	err := s.db.WithContext(ctx).Order("created_at DESC").Find(&all).Error
	if err != nil {
		return nil, errors.Wrap(err, "could not list sessions")
	}
	sessions := make([]*types.CodeSession, 0)
	for _, sess := range all {
		if sess.OwnerId == userId || sess.Participants.Find(userId) != nil {
			sessions = append(sessions, sess)
		}
	}
	if offset >= len(sessions) {
		return []*types.CodeSession{}, nil
	}
	end := offset + limit
	if end > len(sessions) {
		end = len(sessions)
	}
	return sessions[offset:end], nil
}

func (s *GormStore) GetPublicSessions(ctx context.Context, page, limit int) ([]*types.CodeSession, error) {
	offset, limit := pageBounds(page, limit)
	sessions := make([]*types.CodeSession, 0)
	err := s.db.WithContext(ctx).
		Where("is_public = ? AND is_active = ?", true, true).
		Order("created_at DESC").
		Offset(offset).Limit(limit).
		Find(&sessions).Error
	if err != nil {
		return nil, errors.Wrap(err, "could not list public sessions")
	}
	return sessions, nil
}

// JoinSession appends the user to the participant list. The capacity and
// active checks run against freshly read state and the write is guarded by
// the revision that state carried, so two concurrent joins cannot both slip
// past a full session on any backend. Joining a session the user already
// participates in only refreshes lastActive; the returned bool reports
// whether a new participant entry was added.
func (s *GormStore) JoinSession(ctx context.Context, sessionId, userId string, at time.Time) (*types.CodeSession, bool, error) {
	added := false
	session, err := s.mutateSession(ctx, sessionId, func(session *types.CodeSession) error {
		added = false
		if p := session.Participants.Find(userId); p != nil {
			p.LastActive = at
			return nil
		}
		if !session.IsActive {
			return errs.Validation("session is not active")
		}
		if len(session.Participants) >= session.MaxParticipants {
			return errs.Capacity("session is full")
		}
		session.Participants = append(session.Participants, types.SessionParticipant{
			UserId:     userId,
			JoinedAt:   at,
			LastActive: at,
		})
		added = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return session, added, nil
}

// LeaveSession removes the user's participant entry. The session is retained
// even when the last participant leaves.
func (s *GormStore) LeaveSession(ctx context.Context, sessionId, userId string) (*types.CodeSession, error) {
	return s.mutateSession(ctx, sessionId, func(session *types.CodeSession) error {
		idx := -1
		for i := range session.Participants {
			if session.Participants[i].UserId == userId {
				idx = i
				break
			}
		}
		if idx < 0 {
			return errs.NotFound("user is not a participant")
		}
		session.Participants = append(session.Participants[:idx], session.Participants[idx+1:]...)
		return nil
	})
}

// UpdateSessionCode overwrites the shared buffer wholesale (last write wins)
// and bumps the monotonic version. The caller must be a current participant.
func (s *GormStore) UpdateSessionCode(ctx context.Context, sessionId, userId, code string, cursor *int, at time.Time) (*types.CodeSession, error) {
	return s.mutateSession(ctx, sessionId, func(session *types.CodeSession) error {
		p := session.Participants.Find(userId)
		if p == nil {
			return errs.Authorization("user is not a participant")
		}
		session.Code = code
		session.Version++
		p.LastActive = at
		if cursor != nil {
			p.CursorPosition = *cursor
		}
		return nil
	})
}

func (s *GormStore) UpdateSessionCursor(ctx context.Context, sessionId, userId string, cursor int, at time.Time) (*types.CodeSession, error) {
	return s.mutateSession(ctx, sessionId, func(session *types.CodeSession) error {
		p := session.Participants.Find(userId)
		if p == nil {
			return errs.Authorization("user is not a participant")
		}
		p.CursorPosition = cursor
		p.LastActive = at
		return nil
	})
}

func (s *GormStore) SetInviteCode(ctx context.Context, sessionId, code string) error {
	res := s.db.WithContext(ctx).Model(&types.CodeSession{Id: sessionId}).Update("invite_code", code)
	if res.Error != nil {
		return errors.Wrap(res.Error, "could not set invite code")
	}
	if res.RowsAffected == 0 {
		return errs.NotFound("session %s not found", sessionId)
	}
	return nil
}

func (s *GormStore) AddInvitedUser(ctx context.Context, sessionId, userId string) error {
	_, err := s.mutateSession(ctx, sessionId, func(session *types.CodeSession) error {
		if session.InvitedUsers.Contains(userId) {
			return nil
		}
		session.InvitedUsers = append(session.InvitedUsers, userId)
		return nil
	})
	return err
}

// EndSession marks the session inactive. Terminal, the record is retained.
func (s *GormStore) EndSession(ctx context.Context, sessionId string, at time.Time) error {
	_, err := s.mutateSession(ctx, sessionId, func(session *types.CodeSession) error {
		if !session.IsActive {
			return errs.Validation("session already ended")
		}
		session.IsActive = false
		session.EndedAt = &at
		return nil
	})
	return err
}

// DeleteSession removes the record permanently. Works on ended sessions too.
func (s *GormStore) DeleteSession(ctx context.Context, sessionId string) error {
	res := s.db.WithContext(ctx).Delete(&types.CodeSession{}, "id = ?", sessionId)
	if res.Error != nil {
		return errors.Wrap(res.Error, "could not delete session")
	}
	if res.RowsAffected == 0 {
		return errs.NotFound("session %s not found", sessionId)
	}
	return nil
}

func (s *GormStore) SessionStats(ctx context.Context) (*types.SessionStats, error) {
	stats := types.SessionStats{}
	db := s.db.WithContext(ctx)
	if err := db.Model(&types.CodeSession{}).Count(&stats.TotalSessions).Error; err != nil {
		return nil, errors.Wrap(err, "could not count sessions")
	}
	if err := db.Model(&types.CodeSession{}).Where("is_active = ?", true).Count(&stats.ActiveSessions).Error; err != nil {
		return nil, errors.Wrap(err, "could not count active sessions")
	}
	active := make([]*types.CodeSession, 0)
	if err := db.Where("is_active = ?", true).Find(&active).Error; err != nil {
		return nil, errors.Wrap(err, "could not load active sessions")
	}
	for _, sess := range active {
		stats.LiveParticipants += int64(len(sess.Participants))
	}
	ended := make([]*types.CodeSession, 0)
	if err := db.Where("is_active = ? AND ended_at IS NOT NULL", false).Find(&ended).Error; err != nil {
		return nil, errors.Wrap(err, "could not load ended sessions")
	}
	if len(ended) > 0 {
		var total time.Duration
		for _, sess := range ended {
			total += sess.EndedAt.Sub(sess.CreatedAt)
		}
		stats.AvgDurationMinutes = total.Minutes() / float64(len(ended))
	}
	langs := make([]types.LanguageCount, 0)
	err := db.Model(&types.CodeSession{}).
		Select("language, count(*) as count").
		Where("is_active = ?", true).
		Group("language").
		Order("count DESC").
		Limit(5).
		Scan(&langs).Error
	if err != nil {
		return nil, errors.Wrap(err, "could not rank languages")
	}
	stats.TopLanguages = langs
	return &stats, nil
}

const sessionWriteRetries = 3

// errRevisionConflict signals that another writer modified the session between
// our read and our guarded write; the attempt is rolled back and retried
// against the new state.
var errRevisionConflict = errors.New("session revision conflict")

// mutateSession reads the session, applies fn to it, and writes the whole row
// back guarded by the revision the read carried. A concurrent writer bumps the
// revision first, the guarded update then matches zero rows, and the attempt
// is retried against fresh state. READ COMMITTED on postgres is enough for
// this to be safe: the guard makes the write conditional, it does not rely on
// the read being locked.
func (s *GormStore) mutateSession(ctx context.Context, sessionId string, fn func(*types.CodeSession) error) (*types.CodeSession, error) {
	var session types.CodeSession
	for attempt := 0; attempt < sessionWriteRetries; attempt++ {
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			session = types.CodeSession{}
			if err := fetchSession(tx, sessionId, &session); err != nil {
				return err
			}
			readRevision := session.Revision
			if err := fn(&session); err != nil {
				return err
			}
			session.Revision = readRevision + 1
			res := tx.Model(&types.CodeSession{}).
				Where("id = ? AND revision = ?", sessionId, readRevision).
				Select("*").
				Updates(&session)
			if res.Error != nil {
				return errors.Wrap(res.Error, "could not update session")
			}
			if res.RowsAffected == 0 {
				return errRevisionConflict
			}
			return nil
		})
		if errors.Is(err, errRevisionConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return &session, nil
	}
	return nil, errors.Errorf("session %s kept changing concurrently", sessionId)
}

// fetchSession re-reads the session inside the caller's transaction so
// capacity and membership checks run against fresh state.
func fetchSession(tx *gorm.DB, sessionId string, session *types.CodeSession) error {
	err := tx.First(session, "id = ?", sessionId).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errs.NotFound("session %s not found", sessionId)
	}
	if err != nil {
		return errors.Wrap(err, "could not get session")
	}
	return nil
}

// Package codesession coordinates collaborative editing sessions: membership
// and capacity, invite-code access, and the replication of the shared code
// buffer. The buffer is last-write-wins; a monotonic version on every update
// lets clients detect a clobbered write without any merge machinery.
package codesession

import (
	"context"
	"crypto/rand"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/teamloop/teamloop/errs"
	"github.com/teamloop/teamloop/store"
	"github.com/teamloop/teamloop/types"
)

// Broadcaster is the room multicast primitive the coordinator emits through.
type Broadcaster interface {
	BroadcastToRoom(room, event string, payload interface{}, exceptUserId string)
}

type Service struct {
	store           store.Store
	broadcaster     Broadcaster
	maxParticipants int
	pageSize        int
}

func NewService(st store.Store, b Broadcaster, maxParticipants, pageSize int) *Service {
	if maxParticipants <= 0 {
		maxParticipants = types.DefaultMaxParticipants
	}
	if pageSize <= 0 {
		pageSize = 50
	}
	return &Service{store: st, broadcaster: b, maxParticipants: maxParticipants, pageSize: pageSize}
}

type CreateSessionInput struct {
	Title           string `json:"title"`
	Language        string `json:"language"`
	Code            string `json:"code"`
	IsPublic        bool   `json:"isPublic"`
	MaxParticipants int    `json:"maxParticipants"`
}

// Create creates an active session with the owner as its first participant.
func (s *Service) Create(ctx context.Context, ownerId string, input CreateSessionInput) (*types.CodeSession, error) {
	if input.Language == "" {
		return nil, errs.Validation("language is required")
	}
	maxParticipants := input.MaxParticipants
	if maxParticipants <= 0 {
		maxParticipants = s.maxParticipants
	}
	now := time.Now()
	session := &types.CodeSession{
		Id:              uuid.NewString(),
		OwnerId:         ownerId,
		Title:           input.Title,
		Language:        input.Language,
		Code:            input.Code,
		MaxParticipants: maxParticipants,
		Participants: types.SessionParticipants{{
			UserId:     ownerId,
			JoinedAt:   now,
			LastActive: now,
		}},
		IsActive: true,
	}
	if err := s.store.CreateSession(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// Get returns the session if userId is allowed to see it: owner, current
// participant, invitee, or anyone for a public session.
func (s *Service) Get(ctx context.Context, sessionId, userId string) (*types.CodeSession, error) {
	session, err := s.store.GetSession(ctx, sessionId)
	if err != nil {
		return nil, err
	}
	if !session.CanUserJoin(userId) && session.Participants.Find(userId) == nil {
		return nil, errs.Authorization("no access to this session")
	}
	return session, nil
}

func (s *Service) ListForUser(ctx context.Context, userId string, page, limit int) ([]*types.CodeSession, error) {
	if limit <= 0 {
		limit = s.pageSize
	}
	return s.store.GetSessionsForUser(ctx, userId, page, limit)
}

func (s *Service) ListPublic(ctx context.Context, page, limit int) ([]*types.CodeSession, error) {
	if limit <= 0 {
		limit = s.pageSize
	}
	return s.store.GetPublicSessions(ctx, page, limit)
}

// Join adds the user to the session. Authorization (owner / invitee /
// public) is checked here at join time only; capacity and the active flag are
// re-checked transactionally in the store. Joining twice is a no-op success.
func (s *Service) Join(ctx context.Context, sessionId, userId string) error {
	session, err := s.store.GetSession(ctx, sessionId)
	if err != nil {
		return err
	}
	if session.Participants.Find(userId) == nil && !session.CanUserJoin(userId) {
		return errs.Authorization("not invited to this session")
	}
	session, added, err := s.store.JoinSession(ctx, sessionId, userId, time.Now())
	if err != nil {
		return err
	}
	if added {
		s.broadcaster.BroadcastToRoom(types.SessionRoom(sessionId), types.EventUserJoinedSession, types.SessionPresencePayload{
			SessionId:        sessionId,
			UserId:           userId,
			ParticipantCount: len(session.Participants),
		}, "")
	}
	return nil
}

// Leave removes the user's participant entry. The session survives even when
// it empties.
func (s *Service) Leave(ctx context.Context, sessionId, userId string) error {
	session, err := s.store.LeaveSession(ctx, sessionId, userId)
	if err != nil {
		return err
	}
	s.broadcaster.BroadcastToRoom(types.SessionRoom(sessionId), types.EventUserLeftSession, types.SessionPresencePayload{
		SessionId:        sessionId,
		UserId:           userId,
		ParticipantCount: len(session.Participants),
	}, userId)
	return nil
}

// UpdateCode overwrites the shared buffer wholesale and replicates it to the
// other participants. Concurrent editors clobber each other (last write
// wins); the bumped version in the broadcast is how clients notice.
func (s *Service) UpdateCode(ctx context.Context, sessionId, userId, code string, cursor *int) error {
	session, err := s.store.UpdateSessionCode(ctx, sessionId, userId, code, cursor, time.Now())
	if err != nil {
		return err
	}
	cursorPos := 0
	if p := session.Participants.Find(userId); p != nil {
		cursorPos = p.CursorPosition
	}
	s.broadcaster.BroadcastToRoom(types.SessionRoom(sessionId), types.EventCodeUpdated, types.CodeUpdatedPayload{
		SessionId:      sessionId,
		Code:           session.Code,
		Version:        session.Version,
		UserId:         userId,
		CursorPosition: cursorPos,
	}, userId)
	return nil
}

// UpdateCursor replicates only the cursor position, no code payload.
func (s *Service) UpdateCursor(ctx context.Context, sessionId, userId string, cursor int) error {
	_, err := s.store.UpdateSessionCursor(ctx, sessionId, userId, cursor, time.Now())
	if err != nil {
		return err
	}
	s.broadcaster.BroadcastToRoom(types.SessionRoom(sessionId), types.EventCursorUpdated, types.CursorUpdatedPayload{
		SessionId:      sessionId,
		UserId:         userId,
		CursorPosition: cursor,
	}, userId)
	return nil
}

// End marks the session ended. Owner only, terminal, the record is kept.
func (s *Service) End(ctx context.Context, sessionId, userId string) error {
	session, err := s.store.GetSession(ctx, sessionId)
	if err != nil {
		return err
	}
	if session.OwnerId != userId {
		return errs.Authorization("only the owner can end a session")
	}
	now := time.Now()
	if err := s.store.EndSession(ctx, sessionId, now); err != nil {
		return err
	}
	s.broadcaster.BroadcastToRoom(types.SessionRoom(sessionId), types.EventSessionEnded, types.SessionEndedPayload{
		SessionId: sessionId,
		EndedAt:   now,
	}, "")
	return nil
}

// Delete removes the session permanently. Owner only; deliberately skips the
// active check so an already-ended session can still be deleted.
func (s *Service) Delete(ctx context.Context, sessionId, userId string) error {
	session, err := s.store.GetSession(ctx, sessionId)
	if err != nil {
		return err
	}
	if session.OwnerId != userId {
		return errs.Authorization("only the owner can delete a session")
	}
	return s.store.DeleteSession(ctx, sessionId)
}

// GenerateInviteCode mints a fresh 8-character code, invalidating any prior
// one. Owner only.
func (s *Service) GenerateInviteCode(ctx context.Context, sessionId, userId string) (string, error) {
	session, err := s.store.GetSession(ctx, sessionId)
	if err != nil {
		return "", err
	}
	if session.OwnerId != userId {
		return "", errs.Authorization("only the owner can generate an invite code")
	}
	code, err := newInviteCode()
	if err != nil {
		return "", err
	}
	if err := s.store.SetInviteCode(ctx, sessionId, code); err != nil {
		return "", err
	}
	return code, nil
}

// JoinByInviteCode redeems a code: the user becomes a persistent invitee and
// then joins under the usual capacity rules.
func (s *Service) JoinByInviteCode(ctx context.Context, code, userId string) (*types.CodeSession, error) {
	session, err := s.store.GetSessionByInviteCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if err := s.store.AddInvitedUser(ctx, session.Id, userId); err != nil {
		return nil, err
	}
	if err := s.Join(ctx, session.Id, userId); err != nil {
		return nil, err
	}
	return s.store.GetSession(ctx, session.Id)
}

// InviteUser puts a user on the allow-list of a private session. Owner only.
func (s *Service) InviteUser(ctx context.Context, sessionId, ownerId, userId string) error {
	session, err := s.store.GetSession(ctx, sessionId)
	if err != nil {
		return err
	}
	if session.OwnerId != ownerId {
		return errs.Authorization("only the owner can invite users")
	}
	return s.store.AddInvitedUser(ctx, sessionId, userId)
}

// Stats is the read-only aggregate over all sessions.
func (s *Service) Stats(ctx context.Context) (*types.SessionStats, error) {
	return s.store.SessionStats(ctx)
}

const inviteCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

func newInviteCode() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", errors.Wrap(err, "could not generate invite code")
	}
	for i, b := range buf {
		buf[i] = inviteCodeAlphabet[int(b)%len(inviteCodeAlphabet)]
	}
	return string(buf), nil
}

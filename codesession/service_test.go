package codesession

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teamloop/teamloop/errs"
	"github.com/teamloop/teamloop/store"
	"github.com/teamloop/teamloop/types"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type broadcastCall struct {
	room    string
	event   string
	payload interface{}
	except  string
}

type fakeBroadcaster struct {
	calls []broadcastCall
}

func (b *fakeBroadcaster) BroadcastToRoom(room, event string, payload interface{}, exceptUserId string) {
	b.calls = append(b.calls, broadcastCall{room: room, event: event, payload: payload, except: exceptUserId})
}

func newTestService(t *testing.T) (*Service, *fakeBroadcaster) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	st, err := store.NewStoreFromDB(db)
	require.NoError(t, err)
	b := &fakeBroadcaster{}
	return NewService(st, b, 10, 50), b
}

func TestCreateSessionOwnerIsParticipant(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	session, err := svc.Create(ctx, "alice", CreateSessionInput{Title: "kata", Language: "go"})
	require.NoError(t, err)
	assert.True(t, session.IsActive)
	assert.Equal(t, 10, session.MaxParticipants)
	require.Len(t, session.Participants, 1)
	assert.Equal(t, "alice", session.Participants[0].UserId)

	_, err = svc.Create(ctx, "alice", CreateSessionInput{Title: "no lang"})
	assert.True(t, errs.IsKind(err, errs.KindValidation))
}

func TestJoinAuthorization(t *testing.T) {
	svc, b := newTestService(t)
	ctx := context.Background()

	private, err := svc.Create(ctx, "alice", CreateSessionInput{Language: "go"})
	require.NoError(t, err)

	err = svc.Join(ctx, private.Id, "mallory")
	assert.True(t, errs.IsKind(err, errs.KindAuthorization))

	require.NoError(t, svc.InviteUser(ctx, private.Id, "alice", "bob"))
	b.calls = nil
	require.NoError(t, svc.Join(ctx, private.Id, "bob"))

	require.Len(t, b.calls, 1)
	assert.Equal(t, types.EventUserJoinedSession, b.calls[0].event)
	assert.Equal(t, types.SessionRoom(private.Id), b.calls[0].room)

	// a repeated join is a silent no-op
	b.calls = nil
	require.NoError(t, svc.Join(ctx, private.Id, "bob"))
	assert.Empty(t, b.calls)

	// only the owner can invite
	err = svc.InviteUser(ctx, private.Id, "bob", "carol")
	assert.True(t, errs.IsKind(err, errs.KindAuthorization))
}

func TestJoinPublicSession(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	public, err := svc.Create(ctx, "alice", CreateSessionInput{Language: "go", IsPublic: true})
	require.NoError(t, err)
	require.NoError(t, svc.Join(ctx, public.Id, "stranger"))

	got, err := svc.Get(ctx, public.Id, "stranger")
	require.NoError(t, err)
	assert.Len(t, got.Participants, 2)
}

func TestJoinFullSession(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	session, err := svc.Create(ctx, "alice", CreateSessionInput{Language: "go", IsPublic: true, MaxParticipants: 2})
	require.NoError(t, err)
	require.NoError(t, svc.Join(ctx, session.Id, "bob"))

	err = svc.Join(ctx, session.Id, "carol")
	assert.True(t, errs.IsKind(err, errs.KindCapacity))
}

func TestLeaveBroadcast(t *testing.T) {
	svc, b := newTestService(t)
	ctx := context.Background()

	session, err := svc.Create(ctx, "alice", CreateSessionInput{Language: "go", IsPublic: true})
	require.NoError(t, err)
	require.NoError(t, svc.Join(ctx, session.Id, "bob"))
	b.calls = nil

	require.NoError(t, svc.Leave(ctx, session.Id, "bob"))
	require.Len(t, b.calls, 1)
	assert.Equal(t, types.EventUserLeftSession, b.calls[0].event)
	assert.Equal(t, "bob", b.calls[0].except)
	payload := b.calls[0].payload.(types.SessionPresencePayload)
	assert.Equal(t, 1, payload.ParticipantCount)
}

func TestUpdateCodeBroadcast(t *testing.T) {
	svc, b := newTestService(t)
	ctx := context.Background()

	session, err := svc.Create(ctx, "alice", CreateSessionInput{Language: "go", IsPublic: true})
	require.NoError(t, err)
	require.NoError(t, svc.Join(ctx, session.Id, "bob"))
	b.calls = nil

	cursor := 12
	require.NoError(t, svc.UpdateCode(ctx, session.Id, "bob", "package main", &cursor))

	require.Len(t, b.calls, 1)
	assert.Equal(t, types.EventCodeUpdated, b.calls[0].event)
	assert.Equal(t, "bob", b.calls[0].except)
	payload := b.calls[0].payload.(types.CodeUpdatedPayload)
	assert.Equal(t, "package main", payload.Code)
	assert.Equal(t, int64(1), payload.Version)
	assert.Equal(t, 12, payload.CursorPosition)

	// the buffer is overwritten wholesale, the version keeps climbing
	require.NoError(t, svc.UpdateCode(ctx, session.Id, "alice", "package other", nil))
	payload = b.calls[1].payload.(types.CodeUpdatedPayload)
	assert.Equal(t, "package other", payload.Code)
	assert.Equal(t, int64(2), payload.Version)

	err = svc.UpdateCode(ctx, session.Id, "mallory", "x", nil)
	assert.True(t, errs.IsKind(err, errs.KindAuthorization))
}

func TestUpdateCursorBroadcast(t *testing.T) {
	svc, b := newTestService(t)
	ctx := context.Background()

	session, err := svc.Create(ctx, "alice", CreateSessionInput{Language: "go"})
	require.NoError(t, err)
	b.calls = nil

	require.NoError(t, svc.UpdateCursor(ctx, session.Id, "alice", 3))
	require.Len(t, b.calls, 1)
	assert.Equal(t, types.EventCursorUpdated, b.calls[0].event)
	payload := b.calls[0].payload.(types.CursorUpdatedPayload)
	assert.Equal(t, 3, payload.CursorPosition)
}

func TestEndSessionOwnerOnly(t *testing.T) {
	svc, b := newTestService(t)
	ctx := context.Background()

	session, err := svc.Create(ctx, "alice", CreateSessionInput{Language: "go", IsPublic: true})
	require.NoError(t, err)
	require.NoError(t, svc.Join(ctx, session.Id, "bob"))

	err = svc.End(ctx, session.Id, "bob")
	assert.True(t, errs.IsKind(err, errs.KindAuthorization))

	b.calls = nil
	require.NoError(t, svc.End(ctx, session.Id, "alice"))
	require.Len(t, b.calls, 1)
	assert.Equal(t, types.EventSessionEnded, b.calls[0].event)
	assert.Equal(t, "", b.calls[0].except)

	err = svc.End(ctx, session.Id, "alice")
	assert.True(t, errs.IsKind(err, errs.KindValidation))

	// delete still works after the session has ended
	require.NoError(t, svc.Delete(ctx, session.Id, "alice"))
	_, err = svc.Get(ctx, session.Id, "alice")
	assert.True(t, errs.IsKind(err, errs.KindNotFound))
}

func TestInviteCodeRoundTrip(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	session, err := svc.Create(ctx, "alice", CreateSessionInput{Language: "go"})
	require.NoError(t, err)

	_, err = svc.GenerateInviteCode(ctx, session.Id, "bob")
	assert.True(t, errs.IsKind(err, errs.KindAuthorization))

	code, err := svc.GenerateInviteCode(ctx, session.Id, "alice")
	require.NoError(t, err)
	assert.Len(t, code, 8)

	joined, err := svc.JoinByInviteCode(ctx, code, "bob")
	require.NoError(t, err)
	assert.Equal(t, session.Id, joined.Id)
	assert.NotNil(t, joined.Participants.Find("bob"))
	assert.True(t, joined.InvitedUsers.Contains("bob"))

	_, err = svc.JoinByInviteCode(ctx, "bogus123", "carol")
	assert.True(t, errs.IsKind(err, errs.KindNotFound))

	// regenerating invalidates the previous code
	fresh, err := svc.GenerateInviteCode(ctx, session.Id, "alice")
	require.NoError(t, err)
	assert.NotEqual(t, code, fresh)
	_, err = svc.JoinByInviteCode(ctx, code, "dave")
	assert.True(t, errs.IsKind(err, errs.KindNotFound))
}

func TestVisibility(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	private, err := svc.Create(ctx, "alice", CreateSessionInput{Language: "go"})
	require.NoError(t, err)

	_, err = svc.Get(ctx, private.Id, "mallory")
	assert.True(t, errs.IsKind(err, errs.KindAuthorization))

	_, err = svc.Get(ctx, private.Id, "alice")
	require.NoError(t, err)
}

func TestStats(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, "alice", CreateSessionInput{Language: "go"})
	require.NoError(t, err)
	_, err = svc.Create(ctx, "bob", CreateSessionInput{Language: "go"})
	require.NoError(t, err)

	stats, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.TotalSessions)
	assert.Equal(t, int64(2), stats.ActiveSessions)
	assert.Equal(t, int64(2), stats.LiveParticipants)
}

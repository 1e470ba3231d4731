package chat

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teamloop/teamloop/cache"
	"github.com/teamloop/teamloop/config"
	"github.com/teamloop/teamloop/errs"
	"github.com/teamloop/teamloop/store"
	"github.com/teamloop/teamloop/types"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type broadcastCall struct {
	room    string
	userId  string
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

func (b *fakeBroadcaster) BroadcastToUser(userId, event string, payload interface{}) {
	b.calls = append(b.calls, broadcastCall{userId: userId, event: event, payload: payload})
}

func (b *fakeBroadcaster) events() []string {
	events := make([]string, 0, len(b.calls))
	for _, c := range b.calls {
		events = append(events, c.event)
	}
	return events
}

func newTestService(t *testing.T) (*Service, *fakeBroadcaster) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	st, err := store.NewStoreFromDB(db)
	require.NoError(t, err)
	ca, err := cache.NewBuntCache(&config.Config{})
	require.NoError(t, err)
	b := &fakeBroadcaster{}
	return NewService(st, ca, b, 50), b
}

func TestCreateDirectChatFindOrCreate(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.CreateChat(ctx, "alice", CreateChatInput{Type: types.ChatTypeDirect, Participants: []string{"bob"}})
	require.NoError(t, err)
	assert.True(t, first.HasParticipant("alice"))
	assert.True(t, first.HasParticipant("bob"))

	// the reversed pair resolves to the same chat
	second, err := svc.CreateChat(ctx, "bob", CreateChatInput{Type: types.ChatTypeDirect, Participants: []string{"alice"}})
	require.NoError(t, err)
	assert.Equal(t, first.Id, second.Id)
}

// missingFinds makes the direct-chat lookup miss a fixed number of times so
// the creation path runs into the unique pair_key constraint.
type missingFinds struct {
	store.Store
	misses int
}

func (r *missingFinds) FindDirectChat(ctx context.Context, pairKey string) (*types.Chat, error) {
	if r.misses > 0 {
		r.misses--
		return nil, errs.NotFound("no direct chat for pair")
	}
	return r.Store.FindDirectChat(ctx, pairKey)
}

func TestCreateDirectChatLosesCreationRace(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	st, err := store.NewStoreFromDB(db)
	require.NoError(t, err)
	ca, err := cache.NewBuntCache(&config.Config{})
	require.NoError(t, err)
	ctx := context.Background()

	pairKey, err := types.DirectPairKey("alice", "bob")
	require.NoError(t, err)
	existing := &types.Chat{Id: "c-existing", Type: types.ChatTypeDirect, Participants: types.StringSlice{"alice", "bob"}, PairKey: &pairKey, IsActive: true, CreatedBy: "bob"}
	require.NoError(t, st.CreateChat(ctx, existing))

	// the lookup misses, the insert collides, the existing chat comes back
	svc := NewService(&missingFinds{Store: st, misses: 1}, ca, &fakeBroadcaster{}, 50)
	chat, err := svc.CreateChat(ctx, "alice", CreateChatInput{Type: types.ChatTypeDirect, Participants: []string{"bob"}})
	require.NoError(t, err)
	assert.Equal(t, existing.Id, chat.Id)
}

func TestCreateChatValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateChat(ctx, "alice", CreateChatInput{Type: types.ChatTypeDirect, Participants: []string{"bob", "carol"}})
	assert.True(t, errs.IsKind(err, errs.KindValidation))

	// duplicates and the requester collapse into one entry
	_, err = svc.CreateChat(ctx, "alice", CreateChatInput{Type: types.ChatTypeDirect, Participants: []string{"alice", "bob", "bob"}})
	require.NoError(t, err)

	_, err = svc.CreateChat(ctx, "alice", CreateChatInput{Type: types.ChatTypeGroup, Participants: []string{"bob"}})
	assert.True(t, errs.IsKind(err, errs.KindValidation))

	_, err = svc.CreateChat(ctx, "alice", CreateChatInput{Type: "broadcast", Participants: []string{"bob"}})
	assert.True(t, errs.IsKind(err, errs.KindValidation))
}

func TestSendMessageFanout(t *testing.T) {
	svc, b := newTestService(t)
	ctx := context.Background()

	chat, err := svc.CreateChat(ctx, "alice", CreateChatInput{Type: types.ChatTypeGroup, Name: "team", Participants: []string{"bob", "carol"}})
	require.NoError(t, err)
	b.calls = nil

	msg, err := svc.SendMessage(ctx, "alice", SendMessageInput{ChatId: chat.Id, Content: "hello"})
	require.NoError(t, err)
	assert.Equal(t, types.MessageTypeText, msg.Type)

	events := b.events()
	assert.Contains(t, events, types.EventNewMessage)
	assert.Contains(t, events, types.EventChatUpdated)
	// one notification per recipient, never one for the sender
	notified := make([]string, 0)
	for _, c := range b.calls {
		if c.event == types.EventNewNotification {
			notified = append(notified, c.userId)
		}
	}
	assert.ElementsMatch(t, []string{"bob", "carol"}, notified)

	notifications, err := svc.Notifications(ctx, "bob", 1, 10)
	require.NoError(t, err)
	require.Len(t, notifications, 1)
	assert.Equal(t, msg.Id, notifications[0].MessageId)
}

func TestNotificationPreviewRuneBoundary(t *testing.T) {
	short := "héllo"
	assert.Equal(t, short, preview(short))

	// a multi-byte rune straddling the cut is dropped whole
	long := strings.Repeat("a", 119) + "édition"
	p := preview(long)
	assert.True(t, utf8.ValidString(p))
	assert.Equal(t, strings.Repeat("a", 119), p)
}

func TestSendMessageRejections(t *testing.T) {
	svc, b := newTestService(t)
	ctx := context.Background()

	chat, err := svc.CreateChat(ctx, "alice", CreateChatInput{Type: types.ChatTypeDirect, Participants: []string{"bob"}})
	require.NoError(t, err)
	b.calls = nil

	_, err = svc.SendMessage(ctx, "mallory", SendMessageInput{ChatId: chat.Id, Content: "hi"})
	assert.True(t, errs.IsKind(err, errs.KindAuthorization))

	_, err = svc.SendMessage(ctx, "alice", SendMessageInput{ChatId: chat.Id, Content: "   "})
	assert.True(t, errs.IsKind(err, errs.KindValidation))

	_, err = svc.SendMessage(ctx, "alice", SendMessageInput{ChatId: chat.Id, Content: "hi", Type: "carrier-pigeon"})
	assert.True(t, errs.IsKind(err, errs.KindValidation))

	_, err = svc.SendMessage(ctx, "alice", SendMessageInput{ChatId: "missing", Content: "hi"})
	assert.True(t, errs.IsKind(err, errs.KindNotFound))

	// no rejected send may leak a broadcast
	assert.Empty(t, b.calls)
}

func TestReplyMustStayInChat(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.CreateChat(ctx, "alice", CreateChatInput{Type: types.ChatTypeDirect, Participants: []string{"bob"}})
	require.NoError(t, err)
	other, err := svc.CreateChat(ctx, "alice", CreateChatInput{Type: types.ChatTypeDirect, Participants: []string{"carol"}})
	require.NoError(t, err)

	msg, err := svc.SendMessage(ctx, "alice", SendMessageInput{ChatId: first.Id, Content: "origin"})
	require.NoError(t, err)

	_, err = svc.SendMessage(ctx, "alice", SendMessageInput{ChatId: other.Id, Content: "reply", ReplyToId: &msg.Id})
	assert.True(t, errs.IsKind(err, errs.KindValidation))

	reply, err := svc.SendMessage(ctx, "alice", SendMessageInput{ChatId: first.Id, Content: "reply", ReplyToId: &msg.Id})
	require.NoError(t, err)
	assert.Equal(t, msg.Id, *reply.ReplyToId)
}

func TestUpdateMessageSenderOnly(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	chat, err := svc.CreateChat(ctx, "alice", CreateChatInput{Type: types.ChatTypeDirect, Participants: []string{"bob"}})
	require.NoError(t, err)
	msg, err := svc.SendMessage(ctx, "alice", SendMessageInput{ChatId: chat.Id, Content: "hello"})
	require.NoError(t, err)

	_, err = svc.UpdateMessage(ctx, msg.Id, "bob", "hijacked")
	assert.True(t, errs.IsKind(err, errs.KindAuthorization))

	updated, err := svc.UpdateMessage(ctx, msg.Id, "alice", "hello again")
	require.NoError(t, err)
	assert.Equal(t, "hello again", updated.Content)
	assert.True(t, updated.IsEdited)
}

func TestDeleteMessagePlaceholder(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	chat, err := svc.CreateChat(ctx, "alice", CreateChatInput{Type: types.ChatTypeDirect, Participants: []string{"bob"}})
	require.NoError(t, err)
	msg, err := svc.SendMessage(ctx, "alice", SendMessageInput{ChatId: chat.Id, Content: "oops"})
	require.NoError(t, err)

	err = svc.DeleteMessage(ctx, msg.Id, "bob")
	assert.True(t, errs.IsKind(err, errs.KindAuthorization))

	require.NoError(t, svc.DeleteMessage(ctx, msg.Id, "alice"))

	// the row stays visible in the history with its content blanked
	msgs, err := svc.GetMessages(ctx, chat.Id, "bob", 1, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].IsDeleted)
	assert.Equal(t, types.DeletedMessagePlaceholder, msgs[0].Content)

	// a deleted message cannot be edited or deleted again
	_, err = svc.UpdateMessage(ctx, msg.Id, "alice", "resurrect")
	assert.Error(t, err)
	err = svc.DeleteMessage(ctx, msg.Id, "alice")
	assert.Error(t, err)
}

func TestMarkMessageReadIdempotent(t *testing.T) {
	svc, b := newTestService(t)
	ctx := context.Background()

	chat, err := svc.CreateChat(ctx, "alice", CreateChatInput{Type: types.ChatTypeDirect, Participants: []string{"bob"}})
	require.NoError(t, err)
	msg, err := svc.SendMessage(ctx, "alice", SendMessageInput{ChatId: chat.Id, Content: "hello"})
	require.NoError(t, err)
	b.calls = nil

	require.NoError(t, svc.MarkMessageRead(ctx, chat.Id, msg.Id, "bob"))
	require.NoError(t, svc.MarkMessageRead(ctx, chat.Id, msg.Id, "bob"))

	reads := 0
	for _, c := range b.calls {
		if c.event == types.EventMessageRead {
			reads++
		}
	}
	assert.Equal(t, 1, reads)
}

func TestUnreadCount(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	chat, err := svc.CreateChat(ctx, "alice", CreateChatInput{Type: types.ChatTypeDirect, Participants: []string{"bob"}})
	require.NoError(t, err)
	for _, content := range []string{"one", "two"} {
		_, err := svc.SendMessage(ctx, "alice", SendMessageInput{ChatId: chat.Id, Content: content})
		require.NoError(t, err)
	}

	count, err := svc.UnreadCount(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	// the sender's own messages are never unread
	count, err = svc.UnreadCount(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)

	marked, err := svc.MarkChatRead(ctx, chat.Id, "bob")
	require.NoError(t, err)
	assert.Equal(t, 2, marked)

	count, err = svc.UnreadCount(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

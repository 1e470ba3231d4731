// Package chat is the messaging coordinator: chat creation, message
// lifecycle, read receipts and the fan-out of their events. All authority
// lives in the store; broadcasts happen only after successful persistence.
package chat

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/teamloop/teamloop/cache"
	"github.com/teamloop/teamloop/errs"
	"github.com/teamloop/teamloop/globals"
	"github.com/teamloop/teamloop/store"
	"github.com/teamloop/teamloop/types"
)

// Broadcaster is the room multicast primitive the coordinator emits through.
// Pass "" as exceptUserId to deliver to every room member.
type Broadcaster interface {
	BroadcastToRoom(room, event string, payload interface{}, exceptUserId string)
	BroadcastToUser(userId, event string, payload interface{})
}

type Service struct {
	store       store.Store
	cache       cache.Cache
	broadcaster Broadcaster
	pageSize    int
}

func NewService(st store.Store, ca cache.Cache, b Broadcaster, pageSize int) *Service {
	if pageSize <= 0 {
		pageSize = 50
	}
	return &Service{store: st, cache: ca, broadcaster: b, pageSize: pageSize}
}

type CreateChatInput struct {
	Participants []string `json:"participants"`
	Type         string   `json:"type"`
	Name         string   `json:"name"`
	Description  string   `json:"description"`
}

// CreateChat normalizes the participant set (requester always included,
// deduplicated) and creates the chat. Direct chats are find-or-create: the
// same unordered pair always resolves to the same chat.
func (s *Service) CreateChat(ctx context.Context, requesterId string, input CreateChatInput) (*types.Chat, error) {
	participants := normalizeParticipants(requesterId, input.Participants)
	switch input.Type {
	case types.ChatTypeDirect:
		if len(participants) != 2 {
			return nil, errs.Validation("direct chats have exactly 2 participants")
		}

	case types.ChatTypeGroup:
		if len(participants) < 2 {
			return nil, errs.Validation("group chats need at least 2 participants")
		}
		if strings.TrimSpace(input.Name) == "" {
			return nil, errs.Validation("group chats require a name")
		}

	default:
		return nil, errs.Validation("invalid chat type %q", input.Type)
	}

	chat := &types.Chat{
		Id:           uuid.NewString(),
		Type:         input.Type,
		Name:         input.Name,
		Description:  input.Description,
		Participants: participants,
		IsActive:     true,
		CreatedBy:    requesterId,
	}
	if input.Type == types.ChatTypeDirect {
		pairKey, err := types.DirectPairKey(participants[0], participants[1])
		if err != nil {
			return nil, err
		}
		if existing, err := s.store.FindDirectChat(ctx, pairKey); err == nil {
			return existing, nil
		} else if !errs.IsKind(err, errs.KindNotFound) {
			return nil, err
		}
		chat.PairKey = &pairKey
	}
	if err := s.store.CreateChat(ctx, chat); err != nil {
		// a concurrent creator won the pair_key race, theirs is the chat
		if chat.PairKey != nil && errors.Is(err, store.ErrDuplicate) {
			return s.store.FindDirectChat(ctx, *chat.PairKey)
		}
		return nil, err
	}
	s.invalidate(ctx, participants...)
	return chat, nil
}

// GetChats lists the user's chats, most recently active first. The first
// page is cached per user.
func (s *Service) GetChats(ctx context.Context, userId string, page, limit int) ([]*types.Chat, error) {
	if limit <= 0 {
		limit = s.pageSize
	}
	cacheable := page <= 1 && limit == s.pageSize
	if cacheable {
		if raw, ok, err := s.cache.Get(ctx, cache.ChatListKey(userId)); err == nil && ok {
			chats := make([]*types.Chat, 0)
			if err := json.Unmarshal([]byte(raw), &chats); err == nil {
				return chats, nil
			}
		}
	}
	chats, err := s.store.GetChatsForUser(ctx, userId, page, limit)
	if err != nil {
		return nil, err
	}
	if cacheable {
		if raw, err := json.Marshal(chats); err == nil {
			if err := s.cache.Set(ctx, cache.ChatListKey(userId), string(raw), cache.DefaultTTL); err != nil {
				globals.AppLogger.Debug("could not cache chat list", "error", err)
			}
		}
	}
	return chats, nil
}

// CanAccess returns nil when userId is an active participant of an active
// chat.
func (s *Service) CanAccess(ctx context.Context, chatId, userId string) error {
	chat, err := s.store.GetChat(ctx, chatId)
	if err != nil {
		return err
	}
	if !chat.IsActive {
		return errs.NotFound("chat %s not found", chatId)
	}
	if !chat.HasParticipant(userId) {
		return errs.Authorization("not a participant of this chat")
	}
	return nil
}

// GetMessages returns a page of chat history after a membership check.
func (s *Service) GetMessages(ctx context.Context, chatId, userId string, page, limit int) ([]*types.Message, error) {
	if err := s.CanAccess(ctx, chatId, userId); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = s.pageSize
	}
	return s.store.GetMessages(ctx, chatId, page, limit)
}

type SendMessageInput struct {
	ChatId      string            `json:"chatId"`
	Content     string            `json:"content"`
	Type        string            `json:"type"`
	Attachments types.Attachments `json:"attachments"`
	ReplyToId   *string           `json:"replyToId"`
}

// SendMessage persists a message and only then fans out new_message plus a
// chat summary update to the chat room and a notification to every other
// participant. A failed send never emits anything.
func (s *Service) SendMessage(ctx context.Context, senderId string, input SendMessageInput) (*types.Message, error) {
	if strings.TrimSpace(input.ChatId) == "" {
		return nil, errs.Validation("chatId is required")
	}
	if strings.TrimSpace(input.Content) == "" {
		return nil, errs.Validation("message content is empty")
	}
	msgType := input.Type
	if msgType == "" {
		msgType = types.MessageTypeText
	}
	if !types.ValidMessageType(msgType) {
		return nil, errs.Validation("invalid message type %q", msgType)
	}
	chat, err := s.store.GetChat(ctx, input.ChatId)
	if err != nil {
		return nil, err
	}
	if !chat.IsActive {
		return nil, errs.Validation("chat is no longer active")
	}
	if !chat.HasParticipant(senderId) {
		return nil, errs.Authorization("not a participant of this chat")
	}
	if input.ReplyToId != nil {
		replyTo, err := s.store.GetMessage(ctx, *input.ReplyToId)
		if err != nil {
			return nil, err
		}
		if replyTo.ChatId != chat.Id {
			return nil, errs.Validation("replied-to message belongs to another chat")
		}
	}

	now := time.Now()
	msg := &types.Message{
		Id:          uuid.NewString(),
		ChatId:      chat.Id,
		SenderId:    senderId,
		Content:     input.Content,
		Type:        msgType,
		Attachments: input.Attachments,
		ReplyToId:   input.ReplyToId,
		CreatedAt:   now,
	}
	if err := s.store.CreateMessage(ctx, msg); err != nil {
		return nil, err
	}
	if err := s.store.SetChatLastMessage(ctx, chat.Id, msg.Id, now); err != nil {
		return nil, err
	}
	s.invalidate(ctx, chat.Participants...)

	recipients := make([]string, 0, len(chat.Participants)-1)
	notifications := make([]*types.Notification, 0, len(chat.Participants)-1)
	for _, participantId := range chat.Participants {
		if participantId == senderId {
			continue
		}
		recipients = append(recipients, participantId)
		notifications = append(notifications, &types.Notification{
			Id:        uuid.NewString(),
			UserId:    participantId,
			Kind:      types.NotificationKindNewMessage,
			ChatId:    chat.Id,
			MessageId: msg.Id,
			SenderId:  senderId,
			Preview:   preview(msg.Content),
			CreatedAt: now,
		})
	}
	if err := s.store.CreateNotifications(ctx, notifications); err != nil {
		globals.AppLogger.Error("could not persist notifications", "chat", chat.Id, "error", err)
	}

	// broadcast strictly after persistence
	chat.LastMessageId = &msg.Id
	chat.LastMessageAt = &now
	room := types.ChatRoom(chat.Id)
	s.broadcaster.BroadcastToRoom(room, types.EventNewMessage, msg, "")
	s.broadcaster.BroadcastToRoom(room, types.EventChatUpdated, chat, "")
	for i, recipientId := range recipients {
		s.broadcaster.BroadcastToUser(recipientId, types.EventNewNotification, notifications[i])
	}
	return msg, nil
}

// UpdateMessage edits a message's content. Sender only.
func (s *Service) UpdateMessage(ctx context.Context, messageId, userId, content string) (*types.Message, error) {
	if strings.TrimSpace(content) == "" {
		return nil, errs.Validation("message content is empty")
	}
	msg, err := s.store.GetMessage(ctx, messageId)
	if err != nil {
		return nil, err
	}
	if msg.SenderId != userId {
		return nil, errs.Authorization("only the sender can edit a message")
	}
	if msg.IsDeleted {
		return nil, errs.Validation("cannot edit a deleted message")
	}
	now := time.Now()
	msg.Content = content
	msg.IsEdited = true
	msg.EditedAt = &now
	if err := s.store.UpdateMessage(ctx, msg); err != nil {
		return nil, err
	}
	s.broadcaster.BroadcastToRoom(types.ChatRoom(msg.ChatId), types.EventMessageUpdated, msg, "")
	return msg, nil
}

// DeleteMessage soft-deletes: the row stays for ordering, the content is
// replaced with a placeholder. Sender only.
func (s *Service) DeleteMessage(ctx context.Context, messageId, userId string) error {
	msg, err := s.store.GetMessage(ctx, messageId)
	if err != nil {
		return err
	}
	if msg.SenderId != userId {
		return errs.Authorization("only the sender can delete a message")
	}
	if msg.IsDeleted {
		return errs.Validation("message already deleted")
	}
	now := time.Now()
	msg.Content = types.DeletedMessagePlaceholder
	msg.IsDeleted = true
	msg.DeletedAt = &now
	if err := s.store.UpdateMessage(ctx, msg); err != nil {
		return err
	}
	s.invalidate(ctx, userId)
	s.broadcaster.BroadcastToRoom(types.ChatRoom(msg.ChatId), types.EventMessageDeleted, map[string]string{
		"chatId":    msg.ChatId,
		"messageId": msg.Id,
	}, "")
	return nil
}

// MarkMessageRead persists a read receipt for a single message and relays the
// read event to the chat room. Idempotent.
func (s *Service) MarkMessageRead(ctx context.Context, chatId, messageId, userId string) error {
	if err := s.CanAccess(ctx, chatId, userId); err != nil {
		return err
	}
	msg, err := s.store.GetMessage(ctx, messageId)
	if err != nil {
		return err
	}
	if msg.ChatId != chatId {
		return errs.Validation("message does not belong to this chat")
	}
	now := time.Now()
	added, err := s.store.AppendReadReceipt(ctx, messageId, userId, now)
	if err != nil {
		return err
	}
	if !added {
		return nil
	}
	s.invalidate(ctx, userId)
	s.broadcaster.BroadcastToRoom(types.ChatRoom(chatId), types.EventMessageRead, types.MessageReadPayload{
		ChatId:    chatId,
		MessageId: messageId,
		UserId:    userId,
		ReadAt:    now,
	}, userId)
	return nil
}

// MarkChatRead appends receipts for every unread message in the chat sent by
// someone else. Idempotent, a second call marks nothing.
func (s *Service) MarkChatRead(ctx context.Context, chatId, userId string) (int, error) {
	if err := s.CanAccess(ctx, chatId, userId); err != nil {
		return 0, err
	}
	marked, err := s.store.MarkChatRead(ctx, chatId, userId, time.Now())
	if err != nil {
		return 0, err
	}
	if marked > 0 {
		s.invalidate(ctx, userId)
	}
	return marked, nil
}

// UnreadCount counts messages across all the user's chats sent by someone
// else and not yet read by the user. Cached per user.
func (s *Service) UnreadCount(ctx context.Context, userId string) (int64, error) {
	if raw, ok, err := s.cache.Get(ctx, cache.UnreadCountKey(userId)); err == nil && ok {
		if count, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return count, nil
		}
	}
	count, err := s.store.UnreadCount(ctx, userId)
	if err != nil {
		return 0, err
	}
	if err := s.cache.Set(ctx, cache.UnreadCountKey(userId), strconv.FormatInt(count, 10), cache.DefaultTTL); err != nil {
		globals.AppLogger.Debug("could not cache unread count", "error", err)
	}
	return count, nil
}

// Notifications lists the user's notifications, newest first.
func (s *Service) Notifications(ctx context.Context, userId string, page, limit int) ([]*types.Notification, error) {
	if limit <= 0 {
		limit = s.pageSize
	}
	return s.store.GetNotifications(ctx, userId, page, limit)
}

func (s *Service) MarkNotificationRead(ctx context.Context, id, userId string) error {
	return s.store.MarkNotificationRead(ctx, id, userId)
}

func (s *Service) invalidate(ctx context.Context, userIds ...string) {
	if err := cache.InvalidateUsers(ctx, s.cache, userIds...); err != nil {
		globals.AppLogger.Debug("cache invalidation failed", "error", err)
	}
}

func normalizeParticipants(requesterId string, participants []string) types.StringSlice {
	seen := map[string]struct{}{requesterId: {}}
	normalized := []string{requesterId}
	for _, id := range participants {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		normalized = append(normalized, id)
	}
	sort.Strings(normalized)
	return normalized
}

// preview truncates on a rune boundary so the cut never produces invalid
// UTF-8.
func preview(content string) string {
	const max = 120
	if len(content) <= max {
		return content
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(content[cut]) {
		cut--
	}
	return content[:cut]
}

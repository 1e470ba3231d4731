// Package store is the boundary to the external document store. The realtime
// core holds no authoritative state; everything here must survive a process
// restart.
package store

import (
	"context"
	"time"

	"github.com/teamloop/teamloop/types"
)

type Store interface {
	// users
	StoreUser(ctx context.Context, user *types.User) error
	GetUser(ctx context.Context, id string) (*types.User, error)
	GetUserByEmail(ctx context.Context, email string) (*types.User, error)
	GetUsers(ctx context.Context) ([]*types.User, error)
	DeleteUser(ctx context.Context, id string) error

	// chats
	CreateChat(ctx context.Context, chat *types.Chat) error
	GetChat(ctx context.Context, id string) (*types.Chat, error)
	FindDirectChat(ctx context.Context, pairKey string) (*types.Chat, error)
	GetChatsForUser(ctx context.Context, userId string, page, limit int) ([]*types.Chat, error)
	SetChatLastMessage(ctx context.Context, chatId, messageId string, at time.Time) error
	DeactivateChat(ctx context.Context, chatId string) error

	// messages
	CreateMessage(ctx context.Context, msg *types.Message) error
	GetMessage(ctx context.Context, id string) (*types.Message, error)
	GetMessages(ctx context.Context, chatId string, page, limit int) ([]*types.Message, error)
	UpdateMessage(ctx context.Context, msg *types.Message) error
	AppendReadReceipt(ctx context.Context, messageId, userId string, at time.Time) (bool, error)
	MarkChatRead(ctx context.Context, chatId, userId string, at time.Time) (int, error)
	UnreadCount(ctx context.Context, userId string) (int64, error)

	// code sessions
	CreateSession(ctx context.Context, session *types.CodeSession) error
	GetSession(ctx context.Context, id string) (*types.CodeSession, error)
	GetSessionByInviteCode(ctx context.Context, code string) (*types.CodeSession, error)
	GetSessionsForUser(ctx context.Context, userId string, page, limit int) ([]*types.CodeSession, error)
	GetPublicSessions(ctx context.Context, page, limit int) ([]*types.CodeSession, error)
	JoinSession(ctx context.Context, sessionId, userId string, at time.Time) (*types.CodeSession, bool, error)
	LeaveSession(ctx context.Context, sessionId, userId string) (*types.CodeSession, error)
	UpdateSessionCode(ctx context.Context, sessionId, userId, code string, cursor *int, at time.Time) (*types.CodeSession, error)
	UpdateSessionCursor(ctx context.Context, sessionId, userId string, cursor int, at time.Time) (*types.CodeSession, error)
	SetInviteCode(ctx context.Context, sessionId, code string) error
	AddInvitedUser(ctx context.Context, sessionId, userId string) error
	EndSession(ctx context.Context, sessionId string, at time.Time) error
	DeleteSession(ctx context.Context, sessionId string) error
	SessionStats(ctx context.Context) (*types.SessionStats, error)

	// notifications
	CreateNotifications(ctx context.Context, notifications []*types.Notification) error
	GetNotifications(ctx context.Context, userId string, page, limit int) ([]*types.Notification, error)
	MarkNotificationRead(ctx context.Context, id, userId string) error

	Close() error
}

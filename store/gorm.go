package store

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/teamloop/teamloop/config"
	"github.com/teamloop/teamloop/errs"
	"github.com/teamloop/teamloop/types"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type GormStore struct {
	db *gorm.DB
}

var _ Store = (*GormStore)(nil)

func NewStore(cfg *config.Config) (*GormStore, error) {
	db, err := setupGormDB(cfg)
	if err != nil {
		return nil, err
	}
	return NewStoreFromDB(db)
}

// NewStoreFromDB wraps an already opened gorm handle, used by tests with an
// in-memory sqlite database.
func NewStoreFromDB(db *gorm.DB) (*GormStore, error) {
	err := db.AutoMigrate(
		&types.User{},
		&types.Chat{},
		&types.Message{},
		&types.CodeSession{},
		&types.Notification{},
	)
	if err != nil {
		return nil, errors.Wrap(err, "could not migrate schema")
	}
	return &GormStore{db: db}, nil
}

func setupGormDB(cfg *config.Config) (*gorm.DB, error) {
	if cfg.PersistenceConfig.DSN == "" {
		return nil, fmt.Errorf("no persistence DSN configured")
	}
	var dial gorm.Dialector
	switch cfg.PersistenceConfig.Type {
	case "postgres":
		dial = postgres.Open(cfg.PersistenceConfig.DSN)

	case "sqlite":
		dial = sqlite.Open(cfg.PersistenceConfig.DSN)

	default:
		return nil, fmt.Errorf("invalid persistence configuration")
	}
	return gorm.Open(dial, &gorm.Config{TranslateError: true})
}

func pageBounds(page, limit int) (int, int) {
	if limit <= 0 {
		limit = 50
	}
	if page <= 0 {
		page = 1
	}
	return (page - 1) * limit, limit
}

// users

func (s *GormStore) StoreUser(ctx context.Context, user *types.User) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(user).Error
}

func (s *GormStore) GetUser(ctx context.Context, id string) (*types.User, error) {
	user := types.User{}
	err := s.db.WithContext(ctx).First(&user, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errs.NotFound("user %s not found", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "could not get user")
	}
	return &user, nil
}

func (s *GormStore) GetUserByEmail(ctx context.Context, email string) (*types.User, error) {
	user := types.User{}
	err := s.db.WithContext(ctx).First(&user, "email = ?", email).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errs.NotFound("no user with email %s", email)
	}
	if err != nil {
		return nil, errors.Wrap(err, "could not get user")
	}
	return &user, nil
}

func (s *GormStore) GetUsers(ctx context.Context) ([]*types.User, error) {
	users := make([]*types.User, 0)
	err := s.db.WithContext(ctx).Find(&users).Error
	return users, err
}

func (s *GormStore) DeleteUser(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Delete(&types.User{}, "id = ?", id).Error
}

// chats

// ErrDuplicate reports a unique constraint violation, e.g. a second direct
// chat created for the same participant pair.
var ErrDuplicate = errors.New("duplicate record")

func (s *GormStore) CreateChat(ctx context.Context, chat *types.Chat) error {
	err := s.db.WithContext(ctx).Create(chat).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicate
	}
	return err
}

func (s *GormStore) GetChat(ctx context.Context, id string) (*types.Chat, error) {
	chat := types.Chat{}
	err := s.db.WithContext(ctx).First(&chat, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errs.NotFound("chat %s not found", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "could not get chat")
	}
	return &chat, nil
}

func (s *GormStore) FindDirectChat(ctx context.Context, pairKey string) (*types.Chat, error) {
	chat := types.Chat{}
	err := s.db.WithContext(ctx).First(&chat, "pair_key = ?", pairKey).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errs.NotFound("no direct chat for pair")
	}
	if err != nil {
		return nil, errors.Wrap(err, "could not find direct chat")
	}
	return &chat, nil
}

// GetChatsForUser lists the active chats the user participates in, most
// recently written-to first. Participant membership is a JSON list, so the
// filter happens after the scan.
func (s *GormStore) GetChatsForUser(ctx context.Context, userId string, page, limit int) ([]*types.Chat, error) {
	offset, limit := pageBounds(page, limit)
	all := make([]*types.Chat, 0)
	err := s.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("last_message_at DESC NULLS LAST").
		Find(&all).Error
	if err != nil {
		return nil, errors.Wrap(err, "could not list chats")
	}
	chats := make([]*types.Chat, 0)
	for _, c := range all {
		if c.HasParticipant(userId) {
			chats = append(chats, c)
		}
	}
	if offset >= len(chats) {
		return []*types.Chat{}, nil
	}
	end := offset + limit
	if end > len(chats) {
		end = len(chats)
	}
	return chats[offset:end], nil
}

func (s *GormStore) SetChatLastMessage(ctx context.Context, chatId, messageId string, at time.Time) error {
	return s.db.WithContext(ctx).Model(&types.Chat{Id: chatId}).
		Updates(map[string]interface{}{"last_message_id": messageId, "last_message_at": at}).Error
}

func (s *GormStore) DeactivateChat(ctx context.Context, chatId string) error {
	return s.db.WithContext(ctx).Model(&types.Chat{Id: chatId}).Update("is_active", false).Error
}

// messages

func (s *GormStore) CreateMessage(ctx context.Context, msg *types.Message) error {
	return s.db.WithContext(ctx).Create(msg).Error
}

func (s *GormStore) GetMessage(ctx context.Context, id string) (*types.Message, error) {
	msg := types.Message{}
	err := s.db.WithContext(ctx).First(&msg, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errs.NotFound("message %s not found", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "could not get message")
	}
	return &msg, nil
}

// GetMessages returns a page of the chat history, newest first. Soft-deleted
// rows are included, their content is already the deletion placeholder.
func (s *GormStore) GetMessages(ctx context.Context, chatId string, page, limit int) ([]*types.Message, error) {
	offset, limit := pageBounds(page, limit)
	msgs := make([]*types.Message, 0)
	err := s.db.WithContext(ctx).
		Where("chat_id = ?", chatId).
		Order("created_at DESC").
		Offset(offset).Limit(limit).
		Find(&msgs).Error
	if err != nil {
		return nil, errors.Wrap(err, "could not list messages")
	}
	return msgs, nil
}

func (s *GormStore) UpdateMessage(ctx context.Context, msg *types.Message) error {
	return s.db.WithContext(ctx).Save(msg).Error
}

// AppendReadReceipt adds a receipt for userId to the message unless one
// already exists. Returns whether a receipt was added.
func (s *GormStore) AppendReadReceipt(ctx context.Context, messageId, userId string, at time.Time) (bool, error) {
	added := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		msg := types.Message{}
		if err := tx.First(&msg, "id = ?", messageId).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errs.NotFound("message %s not found", messageId)
			}
			return err
		}
		if msg.SenderId == userId || msg.ReadBy.HasUser(userId) {
			return nil
		}
		msg.ReadBy = append(msg.ReadBy, types.ReadReceipt{UserId: userId, ReadAt: at})
		added = true
		return tx.Save(&msg).Error
	})
	return added, err
}

// MarkChatRead appends a receipt for every message in the chat sent by
// someone else that the user has not read yet. Idempotent. Returns the number
// of messages newly marked.
func (s *GormStore) MarkChatRead(ctx context.Context, chatId, userId string, at time.Time) (int, error) {
	marked := 0
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		msgs := make([]*types.Message, 0)
		if err := tx.Where("chat_id = ? AND sender_id <> ?", chatId, userId).Find(&msgs).Error; err != nil {
			return err
		}
		for _, msg := range msgs {
			if msg.ReadBy.HasUser(userId) {
				continue
			}
			msg.ReadBy = append(msg.ReadBy, types.ReadReceipt{UserId: userId, ReadAt: at})
			if err := tx.Save(msg).Error; err != nil {
				return err
			}
			marked++
		}
		return nil
	})
	return marked, err
}

// UnreadCount counts messages across all active chats the user participates
// in that were sent by someone else and carry no receipt from the user.
func (s *GormStore) UnreadCount(ctx context.Context, userId string) (int64, error) {
	all := make([]*types.Chat, 0)
	if err := s.db.WithContext(ctx).Where("is_active = ?", true).Find(&all).Error; err != nil {
		return 0, errors.Wrap(err, "could not list chats")
	}
	var count int64
	for _, chat := range all {
		if !chat.HasParticipant(userId) {
			continue
		}
		msgs := make([]*types.Message, 0)
		err := s.db.WithContext(ctx).
			Where("chat_id = ? AND sender_id <> ?", chat.Id, userId).
			Find(&msgs).Error
		if err != nil {
			return 0, errors.Wrap(err, "could not count unread messages")
		}
		for _, msg := range msgs {
			if !msg.ReadBy.HasUser(userId) {
				count++
			}
		}
	}
	return count, nil
}

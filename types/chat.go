package types

import (
	"sort"
	"strconv"
	"time"

	"github.com/mitchellh/hashstructure/v2"
	"github.com/pkg/errors"
)

const (
	ChatTypeDirect = "direct"
	ChatTypeGroup  = "group"
)

// Chat is a conversation between two (direct) or more (group) participants.
// A direct chat between the same pair of users is a singleton, enforced by a
// unique PairKey derived from the sorted participant pair.
type Chat struct {
	Id            string      `json:"id" gorm:"primaryKey"`
	Type          string      `json:"type" gorm:"index"`
	Name          string      `json:"name"`
	Description   string      `json:"description"`
	Participants  StringSlice `json:"participants"`
	PairKey       *string     `json:"-" gorm:"uniqueIndex"`
	LastMessageId *string     `json:"lastMessageId"`
	LastMessageAt *time.Time  `json:"lastMessageAt"`
	IsActive      bool        `json:"isActive" gorm:"index"`
	CreatedBy     string      `json:"createdBy"`
	CreatedAt     time.Time   `json:"createdAt"`
	UpdatedAt     time.Time   `json:"updatedAt"`
}

// HasParticipant reports whether userId is a member of the chat.
func (c *Chat) HasParticipant(userId string) bool {
	return c.Participants.Contains(userId)
}

// DirectPairKey derives the order-independent lookup key for a direct chat
// between two users.
func DirectPairKey(a, b string) (string, error) {
	pair := []string{a, b}
	sort.Strings(pair)
	h, err := hashstructure.Hash(pair, hashstructure.FormatV2, nil)
	if err != nil {
		return "", errors.Wrap(err, "could not hash participant pair")
	}
	return strconv.FormatUint(h, 16), nil
}

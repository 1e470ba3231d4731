package types

import "time"

const (
	MessageTypeText  = "text"
	MessageTypeImage = "image"
	MessageTypeFile  = "file"
	MessageTypeAudio = "audio"
	MessageTypeVideo = "video"
)

// DeletedMessagePlaceholder replaces the content of a soft-deleted message.
// The row is retained so ordering and reply references stay intact.
const DeletedMessagePlaceholder = "This message was deleted"

// Message belongs to exactly one chat. Only the sender may edit or delete it;
// read receipts are appended by the other participants.
type Message struct {
	Id          string       `json:"id" gorm:"primaryKey"`
	ChatId      string       `json:"chatId" gorm:"index"`
	SenderId    string       `json:"senderId" gorm:"index"`
	Content     string       `json:"content"`
	Type        string       `json:"type"`
	Attachments Attachments  `json:"attachments"`
	ReplyToId   *string      `json:"replyToId"`
	IsEdited    bool         `json:"isEdited"`
	EditedAt    *time.Time   `json:"editedAt"`
	IsDeleted   bool         `json:"isDeleted"`
	DeletedAt   *time.Time   `json:"deletedAt"`
	ReadBy      ReadReceipts `json:"readBy"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"-"`
}

// ValidMessageType reports whether t is one of the supported content types.
func ValidMessageType(t string) bool {
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeFile, MessageTypeAudio, MessageTypeVideo:
		return true
	}
	return false
}

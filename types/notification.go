package types

import "time"

const NotificationKindNewMessage = "new_message"

// Notification is a persisted per-recipient record created when a message is
// sent to a chat they participate in. Delivery over the live connection is
// fire-and-forget; the record is the durable copy.
type Notification struct {
	Id        string    `json:"id" gorm:"primaryKey"`
	UserId    string    `json:"userId" gorm:"index"`
	Kind      string    `json:"kind"`
	ChatId    string    `json:"chatId"`
	MessageId string    `json:"messageId"`
	SenderId  string    `json:"senderId"`
	Preview   string    `json:"preview"`
	IsRead    bool      `json:"isRead"`
	CreatedAt time.Time `json:"createdAt"`
}

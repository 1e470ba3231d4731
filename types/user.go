package types

import "time"

// User is the verified identity attached to a connection. The identity is
// resolved from the handshake credential only, never from a caller-supplied
// id.
type User struct {
	Id          string    `json:"id" gorm:"primaryKey"`
	DisplayName string    `json:"displayName"`
	Email       string    `json:"email" gorm:"index"`
	Avatar      string    `json:"avatar"`
	LastOnline  time.Time `json:"lastOnline"`
	CreatedAt   time.Time `json:"-"`
	UpdatedAt   time.Time `json:"-"`
}

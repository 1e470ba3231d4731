package types

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// The list-valued document fields (participants, read receipts, attachments)
// are stored as JSON columns. Each type implements driver.Valuer and
// sql.Scanner so gorm round-trips them on both sqlite and postgres.

func scanJSON(val interface{}, dest interface{}) error {
	var ba []byte
	switch v := val.(type) {
	case nil:
		return nil
	case []byte:
		ba = v
	case string:
		ba = []byte(v)
	default:
		return errors.New(fmt.Sprint("failed to unmarshal JSON value:", val))
	}
	if len(ba) == 0 {
		return nil
	}
	return json.Unmarshal(ba, dest)
}

func jsonDBDataType(db *gorm.DB, _ *schema.Field) string {
	switch db.Dialector.Name() {
	case "sqlite", "mysql":
		return "JSON"
	case "postgres":
		return "JSONB"
	}
	return ""
}

// StringSlice is a JSON-encoded list of ids.
type StringSlice []string

func (s StringSlice) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	ba, err := json.Marshal([]string(s))
	return string(ba), err
}

func (s *StringSlice) Scan(val interface{}) error {
	t := make([]string, 0)
	if err := scanJSON(val, &t); err != nil {
		return err
	}
	*s = t
	return nil
}

func (StringSlice) GormDBDataType(db *gorm.DB, field *schema.Field) string {
	return jsonDBDataType(db, field)
}

// Contains reports whether id is in the slice.
func (s StringSlice) Contains(id string) bool {
	for _, v := range s {
		if v == id {
			return true
		}
	}
	return false
}

// ReadReceipt records that a user has read a message. Append-only, at most
// one entry per user per message.
type ReadReceipt struct {
	UserId string    `json:"userId"`
	ReadAt time.Time `json:"readAt"`
}

type ReadReceipts []ReadReceipt

func (r ReadReceipts) Value() (driver.Value, error) {
	if r == nil {
		return "[]", nil
	}
	ba, err := json.Marshal([]ReadReceipt(r))
	return string(ba), err
}

func (r *ReadReceipts) Scan(val interface{}) error {
	t := make([]ReadReceipt, 0)
	if err := scanJSON(val, &t); err != nil {
		return err
	}
	*r = t
	return nil
}

func (ReadReceipts) GormDBDataType(db *gorm.DB, field *schema.Field) string {
	return jsonDBDataType(db, field)
}

// HasUser reports whether the user already has a receipt.
func (r ReadReceipts) HasUser(userId string) bool {
	for _, rr := range r {
		if rr.UserId == userId {
			return true
		}
	}
	return false
}

// Attachment is a reference to an externally stored upload.
type Attachment struct {
	Url      string `json:"url"`
	Name     string `json:"name"`
	MimeType string `json:"mimeType"`
	Size     int64  `json:"size"`
}

type Attachments []Attachment

func (a Attachments) Value() (driver.Value, error) {
	if a == nil {
		return "[]", nil
	}
	ba, err := json.Marshal([]Attachment(a))
	return string(ba), err
}

func (a *Attachments) Scan(val interface{}) error {
	t := make([]Attachment, 0)
	if err := scanJSON(val, &t); err != nil {
		return err
	}
	*a = t
	return nil
}

func (Attachments) GormDBDataType(db *gorm.DB, field *schema.Field) string {
	return jsonDBDataType(db, field)
}

// SessionParticipant is a live member of a code session.
type SessionParticipant struct {
	UserId         string    `json:"userId"`
	JoinedAt       time.Time `json:"joinedAt"`
	LastActive     time.Time `json:"lastActive"`
	CursorPosition int       `json:"cursorPosition"`
}

type SessionParticipants []SessionParticipant

func (p SessionParticipants) Value() (driver.Value, error) {
	if p == nil {
		return "[]", nil
	}
	ba, err := json.Marshal([]SessionParticipant(p))
	return string(ba), err
}

func (p *SessionParticipants) Scan(val interface{}) error {
	t := make([]SessionParticipant, 0)
	if err := scanJSON(val, &t); err != nil {
		return err
	}
	*p = t
	return nil
}

func (SessionParticipants) GormDBDataType(db *gorm.DB, field *schema.Field) string {
	return jsonDBDataType(db, field)
}

// Find returns the participant entry for userId, or nil.
func (p SessionParticipants) Find(userId string) *SessionParticipant {
	for i := range p {
		if p[i].UserId == userId {
			return &p[i]
		}
	}
	return nil
}

package types

import "time"

const DefaultMaxParticipants = 10

// CodeSession is a collaborative editing session over a single shared code
// buffer. The buffer is replaced wholesale on every update (last write wins);
// Version increases monotonically so clients can detect a lost write. Revision
// counts every write to the row and guards concurrent store mutations, it is
// never sent to clients.
type CodeSession struct {
	Id              string              `json:"id" gorm:"primaryKey"`
	OwnerId         string              `json:"ownerId" gorm:"index"`
	Title           string              `json:"title"`
	Language        string              `json:"language" gorm:"index"`
	Code            string              `json:"code"`
	Version         int64               `json:"version"`
	Revision        int64               `json:"-"`
	MaxParticipants int                 `json:"maxParticipants"`
	Participants    SessionParticipants `json:"participants"`
	IsActive        bool                `json:"isActive" gorm:"index"`
	EndedAt         *time.Time          `json:"endedAt"`
	IsPublic        bool                `json:"isPublic"`
	InviteCode      *string             `json:"inviteCode" gorm:"uniqueIndex"`
	InvitedUsers    StringSlice         `json:"invitedUsers"`
	CreatedAt       time.Time           `json:"createdAt"`
	UpdatedAt       time.Time           `json:"updatedAt"`
}

// CanUserJoin reports whether userId is authorized to join. The owner is
// always authorized; otherwise the session must be public or the user must be
// on the invite list. Checked at join time only, not on every update.
func (s *CodeSession) CanUserJoin(userId string) bool {
	if s.IsPublic || s.OwnerId == userId {
		return true
	}
	return s.InvitedUsers.Contains(userId)
}

// LanguageCount is one entry of the per-language active session ranking.
type LanguageCount struct {
	Language string `json:"language"`
	Count    int64  `json:"count"`
}

// SessionStats is the read-only aggregate over all code sessions.
type SessionStats struct {
	TotalSessions      int64           `json:"totalSessions"`
	ActiveSessions     int64           `json:"activeSessions"`
	LiveParticipants   int64           `json:"liveParticipants"`
	AvgDurationMinutes float64         `json:"avgDurationMinutes"`
	TopLanguages       []LanguageCount `json:"topLanguages"`
}

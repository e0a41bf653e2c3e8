package domain

import "time"

// Message mirrors the metadata of one remote message of a mailbox account
type Message struct {
	ID                string      `json:"id" gorm:"primaryKey"`
	MailboxAccountID  string      `json:"mailbox_account_id" gorm:"not null"`
	RemoteID          string      `json:"remote_id" gorm:"column:remote_id;not null"`
	ThreadID          string      `json:"thread_id" gorm:"column:thread_id"`
	SenderEmail       string      `json:"sender_email"`
	SenderName        string      `json:"sender_name"`
	Subject           string      `json:"subject"`
	Snippet           string      `json:"snippet"`
	ReceivedAt        time.Time   `json:"received_at"`
	Labels            StringArray `json:"labels" gorm:"type:text"`
	HasReply          bool        `json:"has_reply"`
	AICategory        Category    `json:"ai_category" gorm:"column:ai_category;default:unknown"`
	AIDeleteScore     *float64    `json:"ai_delete_score,omitempty" gorm:"column:ai_delete_score"`
	AIDeleteReason    string      `json:"ai_delete_reason" gorm:"column:ai_delete_reason"`
	IsDeleteCandidate bool        `json:"is_delete_candidate"`
	DeletedByApp      bool        `json:"deleted_by_app"`
	ManuallyKept      bool        `json:"manually_kept"`
	ManuallyDeleted   bool        `json:"manually_deleted"`
	LastSyncedAt      time.Time   `json:"last_synced_at"`
	CreatedAt         time.Time   `json:"created_at"`
	UpdatedAt         time.Time   `json:"updated_at"`
}

func (Message) TableName() string {
	return "messages"
}

// MessageUpdate is a partial update; nil fields are left untouched
type MessageUpdate struct {
	AICategory        *Category
	AIDeleteScore     *float64
	AIDeleteReason    *string
	IsDeleteCandidate *bool
	DeletedByApp      *bool
	ManuallyKept      *bool
	ManuallyDeleted   *bool
}

// Columns returns only the columns that are set
func (u MessageUpdate) Columns() map[string]interface{} {
	cols := make(map[string]interface{})
	if u.AICategory != nil {
		cols["ai_category"] = *u.AICategory
	}
	if u.AIDeleteScore != nil {
		cols["ai_delete_score"] = *u.AIDeleteScore
	}
	if u.AIDeleteReason != nil {
		cols["ai_delete_reason"] = *u.AIDeleteReason
	}
	if u.IsDeleteCandidate != nil {
		cols["is_delete_candidate"] = *u.IsDeleteCandidate
	}
	if u.DeletedByApp != nil {
		cols["deleted_by_app"] = *u.DeletedByApp
	}
	if u.ManuallyKept != nil {
		cols["manually_kept"] = *u.ManuallyKept
	}
	if u.ManuallyDeleted != nil {
		cols["manually_deleted"] = *u.ManuallyDeleted
	}
	return cols
}

// Empty reports whether the update touches nothing
func (u MessageUpdate) Empty() bool {
	return len(u.Columns()) == 0
}

// SyncColumns are the columns a sync pass refreshes on an existing message
func (m *Message) SyncColumns() map[string]interface{} {
	return map[string]interface{}{
		"thread_id":      m.ThreadID,
		"sender_email":   m.SenderEmail,
		"sender_name":    m.SenderName,
		"subject":        m.Subject,
		"snippet":        m.Snippet,
		"received_at":    m.ReceivedAt,
		"labels":         m.Labels,
		"has_reply":      m.HasReply,
		"last_synced_at": m.LastSyncedAt,
	}
}

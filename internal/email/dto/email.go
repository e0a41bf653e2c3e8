package dto

import (
	emaildomain "inboxjanitor/internal/email/domain"
)

// RunSyncRequest is optional; an empty body runs with the configured budget
type RunSyncRequest struct {
	BudgetSeconds int `json:"budget_seconds" binding:"omitempty,min=1,max=3600"`
}

type MessageIDsRequest struct {
	IDs []string `json:"ids" binding:"required,min=1,dive,required"`
}

// ConfirmDeleteRequest may carry an empty id list, which keeps every current candidate
type ConfirmDeleteRequest struct {
	IDs []string `json:"ids"`
}

type CandidatesResponse struct {
	Candidates []*emaildomain.Message `json:"candidates"`
	Total      int                    `json:"total"`
	Limit      int                    `json:"limit"`
}

type SuggestDeletesResponse struct {
	Evaluated  int `json:"evaluated"`
	Candidates int `json:"candidates"`
	Failed     int `json:"failed"`
}

type SenderResponse struct {
	SenderEmail          string  `json:"sender_email"`
	TotalSeen            int     `json:"total_seen"`
	DeletedByAppCount    int     `json:"deleted_by_app_count"`
	ManuallyDeletedCount int     `json:"manually_deleted_count"`
	ManuallyKeptCount    int     `json:"manually_kept_count"`
	Penalty              float64 `json:"penalty"`
	KeepRatio            float64 `json:"keep_ratio"`
}

type SendersResponse struct {
	Senders []SenderResponse `json:"senders"`
}

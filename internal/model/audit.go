package model

import (
	"encoding/json"
	"time"
)

// AnonymousUsername is recorded when an audited request has no identity.
const AnonymousUsername = "anonymous"

// AuditLog is an append-only record of a security or moderation event.
type AuditLog struct {
	ID        int64           `json:"id"`
	UserID    *int64          `json:"user_id"`
	Username  string          `json:"username"`
	Action    string          `json:"action"`
	Details   json.RawMessage `json:"details"`
	IPAddress string          `json:"ip_address"`
	UserAgent string          `json:"user_agent"`
	CreatedAt time.Time       `json:"created_at"`
}

type ActionCount struct {
	Action string `json:"action"`
	Count  int    `json:"count"`
}

type DailyCount struct {
	Date  string `json:"date"` // YYYY-MM-DD
	Count int    `json:"count"`
}

type AuditStats struct {
	Total          int           `json:"total"`
	ByAction       []ActionCount `json:"by_action"`
	RecentActivity []DailyCount  `json:"recent_activity"`
}

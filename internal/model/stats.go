package model

import "time"

// DefaultVolume is returned for buttons the user never adjusted.
const DefaultVolume = 1.0

type ButtonVolume struct {
	UploadedID int64   `json:"uploaded_id"`
	Volume     float64 `json:"volume"`
}

type ButtonStats struct {
	UploadedID int64      `json:"uploaded_id"`
	ButtonName string     `json:"button_name"`
	PlayCount  int        `json:"play_count"`
	LastPlayed *time.Time `json:"last_played,omitempty"`
}

type PlatformStats struct {
	TotalUsers      int `json:"total_users"`
	TotalButtons    int `json:"total_buttons"`
	TotalCategories int `json:"total_categories"`
	TotalDeleted    int `json:"total_deleted"`
	TotalPlays      int `json:"total_plays"`
}

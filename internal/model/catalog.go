package model

import "time"

type FileType string

const (
	FileImage FileType = "image"
	FileSound FileType = "sound"
)

// File is a stored media asset. The bytes live with the file store; the row
// only records the generated filename.
type File struct {
	ID        int64     `json:"id"`
	Filename  string    `json:"filename"`
	Type      FileType  `json:"type"`
	CreatedAt time.Time `json:"created_at"`
}

// DefaultCategoryColor is used when a category is created without a color.
const DefaultCategoryColor = "#6b7280"

type Category struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Color       string `json:"color"`
	ButtonCount int    `json:"button_count"`
}

// Button is a row of the uploaded table joined with its files, category and
// uploader. Buttons are shared platform-wide.
type Button struct {
	ID                 int64     `json:"id"`
	Name               string    `json:"button_name"`
	ImageID            int64     `json:"image_id"`
	SoundID            int64     `json:"sound_id"`
	ImageFilename      string    `json:"image_filename"`
	SoundFilename      string    `json:"sound_filename"`
	ImageURL           string    `json:"image_url,omitempty"`
	SoundURL           string    `json:"sound_url,omitempty"`
	UploadedBy         *int64    `json:"uploaded_by"`
	UploadedByUsername string    `json:"uploaded_by_username,omitempty"`
	CategoryID         *int64    `json:"category_id"`
	CategoryName       string    `json:"category_name,omitempty"`
	CategoryColor      string    `json:"category_color,omitempty"`
	IsLinked           bool      `json:"is_linked"`
	CreatedAt          time.Time `json:"created_at"`
}

// BoardButton is a button as it appears on one user's board.
type BoardButton struct {
	Button
	Tri int `json:"tri"`
}

// History statuses for DeletedButton.
const (
	StatusDeleted  = "deleted"
	StatusRestored = "restored"
)

// DeletedButton is the archive row written when a user removes a button from
// their board. It can be restored exactly once.
type DeletedButton struct {
	ID            int64      `json:"id"`
	OwnerID       int64      `json:"owner_id"`
	OwnerUsername string     `json:"owner_username,omitempty"`
	UploadedID    int64      `json:"uploaded_id"`
	ButtonName    string     `json:"button_name"`
	SoundFilename string     `json:"sound_filename"`
	ImageFilename string     `json:"image_filename"`
	ImageID       int64      `json:"image_id"`
	SoundID       int64      `json:"sound_id"`
	CategoryID    *int64     `json:"category_id"`
	Status        string     `json:"status"`
	DeleteDate    time.Time  `json:"delete_date"`
	RestoredAt    *time.Time `json:"restored_at,omitempty"`
}

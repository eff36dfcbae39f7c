// Package repository declares the storage contracts used by the services.
// The sqlite subpackage is the only implementation; tests may supply fakes.
package repository

import (
	"context"
	"time"

	"github.com/sakif/soundboard/internal/model"
)

type ListOptions struct {
	Limit  int
	Offset int
}

// CategoryDeletePolicy decides what happens to buttons of a deleted category.
type CategoryDeletePolicy string

const (
	CategorySetNull CategoryDeletePolicy = "set_null"
	CategoryCascade CategoryDeletePolicy = "cascade"
)

func (p CategoryDeletePolicy) Valid() bool {
	return p == CategorySetNull || p == CategoryCascade
}

type UserRepository interface {
	CreateUser(ctx context.Context, user *model.User) error
	GetUserByID(ctx context.Context, id int64) (*model.User, error)
	GetUserByUsername(ctx context.Context, username string) (*model.User, error)
	GetUserByExternalID(ctx context.Context, externalID string) (*model.User, error)
	BindExternalID(ctx context.Context, id int64, externalID string) error
	ListUsersWithStats(ctx context.Context) ([]model.UserWithStats, error)
	UpdatePassword(ctx context.Context, id int64, hash string) error
	UpdateButtonSize(ctx context.Context, id int64, size int) error
	UpdateAvatar(ctx context.Context, id int64, filename string) error
	UpdateTier(ctx context.Context, id int64, tier model.Tier) error
	DeleteUser(ctx context.Context, id int64) error
}

type CategoryRepository interface {
	CreateCategory(ctx context.Context, c *model.Category) error
	GetCategoryByID(ctx context.Context, id int64) (*model.Category, error)
	GetCategoryByName(ctx context.Context, name string) (*model.Category, error)
	ListCategories(ctx context.Context) ([]model.Category, error)
	UpdateCategory(ctx context.Context, c *model.Category) error
	UpsertCategory(ctx context.Context, c *model.Category) error
	DeleteCategory(ctx context.Context, id int64, policy CategoryDeletePolicy) error
}

type FileRepository interface {
	CreateFile(ctx context.Context, f *model.File) error
	GetFileByID(ctx context.Context, id int64) (*model.File, error)
}

type ButtonRepository interface {
	CreateButton(ctx context.Context, b *model.Button) error
	GetButton(ctx context.Context, id int64) (*model.Button, error)
	// ListButtons returns the catalog. When viewerID is non-zero, IsLinked
	// reports whether that user has the button on their board.
	ListButtons(ctx context.Context, viewerID int64) ([]model.Button, error)
	ListButtonsByUploader(ctx context.Context, userID int64) ([]model.Button, error)
	UpdateButton(ctx context.Context, id int64, name string, categoryID *int64) error
	// DeleteButton removes the catalog row and its file rows and returns the
	// deleted button so the caller can drop the stored media.
	DeleteButton(ctx context.Context, id int64) (*model.Button, error)
}

// LinkRepository maintains each user's ordered board.
type LinkRepository interface {
	Link(ctx context.Context, userID, uploadedID int64, tri int) error
	GetMaxTri(ctx context.Context, userID int64) (int, error)
	NextTri(ctx context.Context, userID int64) (int, error)
	UpdatePosition(ctx context.Context, userID, uploadedID int64, tri int) error
	Reorder(ctx context.Context, userID int64, order []int64) error
	Unlink(ctx context.Context, userID, uploadedID int64) error
	ListBoard(ctx context.Context, userID int64) ([]model.BoardButton, error)
	GetBoardButton(ctx context.Context, userID, uploadedID int64) (*model.BoardButton, error)
	SearchByCategory(ctx context.Context, userID int64, pattern string) ([]model.BoardButton, error)
	// ArchiveLink writes a deleted_button row for the link and removes the
	// link in the same transaction.
	ArchiveLink(ctx context.Context, userID, uploadedID int64) (*model.DeletedButton, error)
}

type HistoryRepository interface {
	GetHistory(ctx context.Context, id int64) (*model.DeletedButton, error)
	ListHistory(ctx context.Context) ([]model.DeletedButton, error)
	ListHistoryByOwner(ctx context.Context, ownerID int64) ([]model.DeletedButton, error)
	// RestoreHistory marks the row restored and re-links the button for its
	// owner at tri. A negative tri appends to the end of the board.
	RestoreHistory(ctx context.Context, id int64, tri int) (*model.DeletedButton, error)
}

// AuditFilter narrows an audit log listing. Zero fields are ignored.
type AuditFilter struct {
	Action string
	UserID int64
	Start  time.Time
	End    time.Time
}

type AuditRepository interface {
	CreateAuditLog(ctx context.Context, entry *model.AuditLog) error
	ListAuditLogs(ctx context.Context, filter AuditFilter, opts ListOptions) ([]model.AuditLog, error)
	AuditStats(ctx context.Context, since time.Time) (*model.AuditStats, error)
	DeleteAuditLogsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type PreferenceRepository interface {
	GetVolume(ctx context.Context, userID, uploadedID int64) (float64, error)
	SetVolume(ctx context.Context, userID, uploadedID int64, volume float64) error
	ListVolumes(ctx context.Context, userID int64) ([]model.ButtonVolume, error)
	AddFavorite(ctx context.Context, userID, uploadedID int64) error
	RemoveFavorite(ctx context.Context, userID, uploadedID int64) error
	ListFavorites(ctx context.Context, userID int64) ([]model.Button, error)
	IncrementPlayCount(ctx context.Context, uploadedID int64) error
	GetButtonStats(ctx context.Context, uploadedID int64) (*model.ButtonStats, error)
	MostPlayed(ctx context.Context, limit int) ([]model.ButtonStats, error)
	PlatformStats(ctx context.Context) (*model.PlatformStats, error)
}

package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sakif/soundboard/internal/apperror"
	"github.com/sakif/soundboard/internal/model"
	"github.com/sakif/soundboard/internal/repository"
	"github.com/sakif/soundboard/internal/storage"
)

// Bulk operations accepted by BoardService.Bulk.
const (
	BulkLink   = "link"
	BulkDelete = "delete"
)

// BoardService maintains each user's ordered board of linked buttons.
//
// Positions (tri) are 0-based. Appending uses NextTri, a drag reorder
// renumbers the whole board to 0..N-1 in one transaction.
type BoardService struct {
	links   repository.LinkRepository
	buttons repository.ButtonRepository
	store   storage.Store
	logger  *slog.Logger
}

func NewBoardService(
	links repository.LinkRepository,
	buttons repository.ButtonRepository,
	store storage.Store,
	logger *slog.Logger,
) *BoardService {
	return &BoardService{links: links, buttons: buttons, store: store, logger: logger}
}

func (s *BoardService) List(ctx context.Context, userID int64) ([]model.BoardButton, error) {
	board, err := s.links.ListBoard(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service/board: listing board of %d: %w", userID, err)
	}
	for i := range board {
		decorate(s.store, &board[i].Button)
	}
	return board, nil
}

// Link puts uploadedID on the board. A nil tri appends; linking a button
// that is already on the board moves it. It returns the tri used.
func (s *BoardService) Link(ctx context.Context, userID, uploadedID int64, tri *int) (int, error) {
	if uploadedID <= 0 {
		return 0, apperror.ValidationFailed("uploadedId", "uploadedId is required")
	}
	pos, err := s.position(ctx, userID, tri)
	if err != nil {
		return 0, err
	}
	if err := s.links.Link(ctx, userID, uploadedID, pos); err != nil {
		return 0, fmt.Errorf("service/board: linking %d: %w", uploadedID, err)
	}
	return pos, nil
}

func (s *BoardService) position(ctx context.Context, userID int64, tri *int) (int, error) {
	if tri == nil {
		next, err := s.links.NextTri(ctx, userID)
		if err != nil {
			return 0, fmt.Errorf("service/board: %w", err)
		}
		return next, nil
	}
	if *tri < 0 {
		return 0, apperror.ValidationFailed("tri", "tri must not be negative")
	}
	return *tri, nil
}

// Unlink removes the button from the board and archives it in the delete
// history so an admin can restore it.
func (s *BoardService) Unlink(ctx context.Context, userID, uploadedID int64) (*model.DeletedButton, error) {
	h, err := s.links.ArchiveLink(ctx, userID, uploadedID)
	if err != nil {
		return nil, fmt.Errorf("service/board: unlinking %d: %w", uploadedID, err)
	}
	return h, nil
}

// Reorder saves order as the new board order. order must list every linked
// button exactly once, so an empty order is valid only for an empty board.
func (s *BoardService) Reorder(ctx context.Context, userID int64, order []int64) error {
	if err := s.links.Reorder(ctx, userID, order); err != nil {
		return fmt.Errorf("service/board: reordering board of %d: %w", userID, err)
	}
	s.logger.Debug("board reordered",
		slog.Int64("user_id", userID),
		slog.Int("buttons", len(order)),
	)
	return nil
}

func (s *BoardService) UpdatePosition(ctx context.Context, userID, uploadedID int64, tri int) error {
	if tri < 0 {
		return apperror.ValidationFailed("tri", "tri must not be negative")
	}
	if err := s.links.UpdatePosition(ctx, userID, uploadedID, tri); err != nil {
		return fmt.Errorf("service/board: moving %d: %w", uploadedID, err)
	}
	return nil
}

// Search returns the caller's linked buttons whose category name contains
// category, in board order.
func (s *BoardService) Search(ctx context.Context, userID int64, category string) ([]model.BoardButton, error) {
	category = strings.TrimSpace(category)
	if category == "" {
		return nil, apperror.ValidationFailed("category", "Category name is required")
	}
	board, err := s.links.SearchByCategory(ctx, userID, category)
	if err != nil {
		return nil, fmt.Errorf("service/board: searching %q: %w", category, err)
	}
	for i := range board {
		decorate(s.store, &board[i].Button)
	}
	return board, nil
}

// Bulk applies op to ids and returns how many buttons it changed.
//
// "link" appends the buttons after the current last position in the given
// order; every id must name an existing button. "delete" removes the ones
// that are on the board and ignores the rest.
func (s *BoardService) Bulk(ctx context.Context, userID int64, op string, ids []int64) (int, error) {
	if op == "" || len(ids) == 0 {
		return 0, apperror.ValidationFailed("buttonIds", "Operation and buttonIds array are required")
	}
	seen := make(map[int64]bool, len(ids))
	for _, id := range ids {
		if id <= 0 {
			return 0, apperror.ValidationFailed("buttonIds", fmt.Sprintf("Invalid button id %d", id))
		}
		if seen[id] {
			return 0, apperror.ValidationFailed("buttonIds", fmt.Sprintf("Button %d is listed twice", id))
		}
		seen[id] = true
	}

	switch op {
	case BulkLink:
		for _, id := range ids {
			if _, err := s.buttons.GetButton(ctx, id); err != nil {
				return 0, fmt.Errorf("service/board: bulk link: %w", err)
			}
		}
		next, err := s.links.NextTri(ctx, userID)
		if err != nil {
			return 0, fmt.Errorf("service/board: %w", err)
		}
		for i, id := range ids {
			if err := s.links.Link(ctx, userID, id, next+i); err != nil {
				return i, fmt.Errorf("service/board: bulk link %d: %w", id, err)
			}
		}
		return len(ids), nil

	case BulkDelete:
		n := 0
		for _, id := range ids {
			err := s.links.Unlink(ctx, userID, id)
			if errors.Is(err, apperror.ErrNotFound) {
				continue
			}
			if err != nil {
				return n, fmt.Errorf("service/board: bulk delete %d: %w", id, err)
			}
			n++
		}
		return n, nil
	}
	return 0, apperror.ValidationFailed("operation", "Invalid operation. Supported: delete, link")
}

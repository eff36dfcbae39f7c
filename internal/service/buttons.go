package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"

	"github.com/sakif/soundboard/internal/apperror"
	"github.com/sakif/soundboard/internal/model"
	"github.com/sakif/soundboard/internal/repository"
	"github.com/sakif/soundboard/internal/storage"
)

var colorPattern = regexp.MustCompile(`^#(?:[0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)

// Upload is one file of a multipart form.
type Upload struct {
	Filename string
	Body     io.Reader
}

type UploadInput struct {
	Name         string
	CategoryName string
	Image        *Upload
	Sound        *Upload
}

// ButtonService manages the shared catalog and its categories.
type ButtonService struct {
	buttons    repository.ButtonRepository
	files      repository.FileRepository
	categories repository.CategoryRepository
	links      repository.LinkRepository
	store      storage.Store
	logger     *slog.Logger
}

func NewButtonService(
	buttons repository.ButtonRepository,
	files repository.FileRepository,
	categories repository.CategoryRepository,
	links repository.LinkRepository,
	store storage.Store,
	logger *slog.Logger,
) *ButtonService {
	return &ButtonService{
		buttons:    buttons,
		files:      files,
		categories: categories,
		links:      links,
		store:      store,
		logger:     logger,
	}
}

// UploadResult is the created button and the board position it was linked at.
type UploadResult struct {
	Button *model.Button
	Tri    int
}

// Upload stores the media, creates the catalog row and puts the button at
// the end of the uploader's board. The category is looked up by name
// (case-insensitively) and created when missing.
func (s *ButtonService) Upload(ctx context.Context, userID int64, in UploadInput) (*UploadResult, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" || in.Image == nil || in.Sound == nil {
		return nil, apperror.ValidationFailed("ButtonName", "Image, sound, and button name are required")
	}
	if len([]rune(name)) > MaxButtonNameLength {
		return nil, apperror.ValidationFailed("ButtonName",
			fmt.Sprintf("Button name must be at most %d characters", MaxButtonNameLength))
	}

	imageName, err := s.store.Save(ctx, storage.KindImage, in.Image.Filename, in.Image.Body)
	if err != nil {
		return nil, fmt.Errorf("service/buttons: %w", storageError("image", err))
	}
	soundName, err := s.store.Save(ctx, storage.KindSound, in.Sound.Filename, in.Sound.Body)
	if err != nil {
		removeFile(s.store, s.logger, storage.KindImage, imageName)
		return nil, fmt.Errorf("service/buttons: %w", storageError("sound", err))
	}

	res, err := s.createButton(ctx, userID, name, in.CategoryName, imageName, soundName)
	if err != nil {
		removeFile(s.store, s.logger, storage.KindImage, imageName)
		removeFile(s.store, s.logger, storage.KindSound, soundName)
		return nil, err
	}

	s.logger.Info("button uploaded",
		slog.Int64("button_id", res.Button.ID),
		slog.Int64("user_id", userID),
		slog.Int("tri", res.Tri),
	)
	return res, nil
}

func (s *ButtonService) createButton(ctx context.Context, userID int64, name, categoryName, imageName, soundName string) (*UploadResult, error) {
	image := &model.File{Filename: imageName, Type: model.FileImage}
	if err := s.files.CreateFile(ctx, image); err != nil {
		return nil, fmt.Errorf("service/buttons: recording image: %w", err)
	}
	sound := &model.File{Filename: soundName, Type: model.FileSound}
	if err := s.files.CreateFile(ctx, sound); err != nil {
		return nil, fmt.Errorf("service/buttons: recording sound: %w", err)
	}

	var categoryID *int64
	if categoryName = strings.TrimSpace(categoryName); categoryName != "" {
		c, err := s.findOrCreateCategory(ctx, categoryName)
		if err != nil {
			return nil, err
		}
		categoryID = &c.ID
	}

	uploader := userID
	b := &model.Button{
		Name:       name,
		ImageID:    image.ID,
		SoundID:    sound.ID,
		UploadedBy: &uploader,
		CategoryID: categoryID,
	}
	if err := s.buttons.CreateButton(ctx, b); err != nil {
		return nil, fmt.Errorf("service/buttons: creating button: %w", err)
	}

	tri, err := s.links.NextTri(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service/buttons: %w", err)
	}
	if err := s.links.Link(ctx, userID, b.ID, tri); err != nil {
		return nil, fmt.Errorf("service/buttons: linking new button %d: %w", b.ID, err)
	}

	created, err := s.buttons.GetButton(ctx, b.ID)
	if err != nil {
		return nil, fmt.Errorf("service/buttons: reloading button %d: %w", b.ID, err)
	}
	created.IsLinked = true
	decorate(s.store, created)
	return &UploadResult{Button: created, Tri: tri}, nil
}

func (s *ButtonService) findOrCreateCategory(ctx context.Context, name string) (*model.Category, error) {
	c, err := s.categories.GetCategoryByName(ctx, name)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, apperror.ErrNotFound) {
		return nil, fmt.Errorf("service/buttons: finding category %q: %w", name, err)
	}

	c = &model.Category{Name: name}
	if err := s.categories.CreateCategory(ctx, c); err != nil {
		// Lost a race with another upload naming the same category.
		if errors.Is(err, apperror.ErrConflict) {
			return s.categories.GetCategoryByName(ctx, name)
		}
		return nil, fmt.Errorf("service/buttons: creating category %q: %w", name, err)
	}
	return c, nil
}

// Catalog lists every button. With a non-zero viewerID, IsLinked marks the
// ones on that user's board.
func (s *ButtonService) Catalog(ctx context.Context, viewerID int64) ([]model.Button, error) {
	buttons, err := s.buttons.ListButtons(ctx, viewerID)
	if err != nil {
		return nil, fmt.Errorf("service/buttons: listing catalog: %w", err)
	}
	decorateAll(s.store, buttons)
	return buttons, nil
}

// UploadedBy lists the buttons userID uploaded.
func (s *ButtonService) UploadedBy(ctx context.Context, userID int64) ([]model.Button, error) {
	buttons, err := s.buttons.ListButtonsByUploader(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service/buttons: listing uploads of %d: %w", userID, err)
	}
	decorateAll(s.store, buttons)
	return buttons, nil
}

func (s *ButtonService) Categories(ctx context.Context) ([]model.Category, error) {
	categories, err := s.categories.ListCategories(ctx)
	if err != nil {
		return nil, fmt.Errorf("service/buttons: listing categories: %w", err)
	}
	return categories, nil
}

// CreateCategory adds a category. An empty color gets the default.
func (s *ButtonService) CreateCategory(ctx context.Context, name, color string) (*model.Category, error) {
	c := &model.Category{Name: strings.TrimSpace(name), Color: strings.TrimSpace(color)}
	if err := validateCategory(c); err != nil {
		return nil, err
	}
	if err := s.categories.CreateCategory(ctx, c); err != nil {
		return nil, fmt.Errorf("service/buttons: creating category %q: %w", c.Name, err)
	}
	return c, nil
}

// SeedCategories creates each category or updates the color of an existing
// one with the same name. Every entry is validated before anything is
// written.
func (s *ButtonService) SeedCategories(ctx context.Context, seed []model.Category) (int, error) {
	for i := range seed {
		seed[i].Name = strings.TrimSpace(seed[i].Name)
		seed[i].Color = strings.TrimSpace(seed[i].Color)
		if err := validateCategory(&seed[i]); err != nil {
			return 0, fmt.Errorf("category %d: %w", i+1, err)
		}
	}
	for i := range seed {
		if err := s.categories.UpsertCategory(ctx, &seed[i]); err != nil {
			return i, fmt.Errorf("service/buttons: seeding %q: %w", seed[i].Name, err)
		}
	}
	return len(seed), nil
}

func validateCategory(c *model.Category) error {
	if c.Name == "" {
		return apperror.ValidationFailed("name", "Category name is required")
	}
	if c.Color != "" && !colorPattern.MatchString(c.Color) {
		return apperror.ValidationFailed("color", "Color must be a hex value like #3b82f6")
	}
	return nil
}

// decorate fills in the public media URLs of b.
func decorate(store storage.Store, b *model.Button) {
	b.ImageURL = store.URLFor(storage.KindImage, b.ImageFilename)
	b.SoundURL = store.URLFor(storage.KindSound, b.SoundFilename)
}

func decorateAll(store storage.Store, buttons []model.Button) {
	for i := range buttons {
		decorate(store, &buttons[i])
	}
}

package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"storyweave/internal/util"
	"storyweave/pkg/ai"
	"storyweave/pkg/domain"
	"storyweave/pkg/store"
)

const storySystemPrompt = "You are a creative story generator."

// Config holds runtime configuration for the core application.
type Config struct {
	DatabaseURL string
	Store       store.Store
	Generator   ai.TextGenerator
}

// App owns book and chapter persistence plus story continuation.
type App struct {
	store     store.Store
	generator ai.TextGenerator
}

// New constructs the application.
func New(cfg Config) (*App, error) {
	dataStore := cfg.Store
	if dataStore == nil {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("database URL required")
		}
		var err error
		dataStore, err = store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
	}
	if cfg.Generator == nil {
		return nil, fmt.Errorf("text generator required")
	}
	return &App{store: dataStore, generator: cfg.Generator}, nil
}

// CreateBook persists a new book with a trimmed, non-empty title.
func (a *App) CreateBook(ctx context.Context, owner domain.User, title string) (domain.Book, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return domain.Book{}, ErrTitleRequired
	}
	book := domain.Book{
		ID:        util.NewID(),
		OwnerID:   owner.ID,
		Title:     title,
		CreatedAt: time.Now().UTC(),
	}
	if err := a.store.SaveBook(ctx, book); err != nil {
		return domain.Book{}, fmt.Errorf("save book: %w", err)
	}
	return book, nil
}

// ListBooks returns the owner's books, newest first.
func (a *App) ListBooks(ctx context.Context, owner domain.User) ([]domain.Book, error) {
	books, err := a.store.ListBooksByOwner(ctx, owner.ID)
	if err != nil {
		return nil, fmt.Errorf("list books: %w", err)
	}
	return books, nil
}

// GetBookWithChapters returns a book and its chapters ordered for
// reconstruction (idx asc, createdAt asc). The book and chapter queries run
// concurrently. A book that does not exist or belongs to another owner
// yields ErrBookNotFound.
func (a *App) GetBookWithChapters(ctx context.Context, owner domain.User, bookID string) (domain.Book, []domain.Chapter, error) {
	var (
		book     domain.Book
		found    bool
		chapters []domain.Chapter
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		book, found, err = a.store.GetBook(gctx, bookID)
		if err != nil {
			return fmt.Errorf("fetch book: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		chapters, err = a.store.ListChapters(gctx, bookID)
		if err != nil {
			return fmt.Errorf("fetch chapters: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return domain.Book{}, nil, err
	}
	if !found || book.OwnerID != owner.ID {
		return domain.Book{}, nil, ErrBookNotFound
	}
	return book, chapters, nil
}

// AddChapter appends a chapter with a caller-supplied idx. Duplicate idx
// values are accepted; ordering is resolved at read time.
func (a *App) AddChapter(ctx context.Context, owner domain.User, bookID, content string, idx int) (domain.Chapter, error) {
	if strings.TrimSpace(content) == "" {
		return domain.Chapter{}, ErrContentRequired
	}
	if idx < 0 {
		return domain.Chapter{}, ErrNegativeIdx
	}
	book, found, err := a.store.GetBook(ctx, bookID)
	if err != nil {
		return domain.Chapter{}, fmt.Errorf("fetch book: %w", err)
	}
	if !found || book.OwnerID != owner.ID {
		return domain.Chapter{}, ErrBookNotFound
	}
	chapter := domain.Chapter{
		ID:        util.NewID(),
		BookID:    bookID,
		Content:   content,
		Idx:       idx,
		CreatedAt: time.Now().UTC(),
	}
	if err := a.store.SaveChapter(ctx, chapter); err != nil {
		return domain.Chapter{}, fmt.Errorf("save chapter: %w", err)
	}
	return chapter, nil
}

// Continuation is the outcome of one story continuation request. PersistErr
// is set when generation succeeded but the chapter write failed; the story
// is still returned so the generation is not wasted.
type Continuation struct {
	Story      string
	PersistErr error
}

// ContinueStory requests generated content for the prompt and, when bookID
// is non-empty, records it as a chapter at the given idx. The caller owns
// idx assignment; this method never increments it across calls.
func (a *App) ContinueStory(ctx context.Context, owner domain.User, prompt, bookID string, idx int) (Continuation, error) {
	if strings.TrimSpace(prompt) == "" {
		return Continuation{}, ErrPromptRequired
	}
	if bookID != "" && idx < 0 {
		// Checked before generating so a doomed persist never costs a
		// generation.
		return Continuation{}, ErrNegativeIdx
	}
	story, err := a.generator.GenerateText(ctx, []ai.Message{
		{Role: "system", Content: storySystemPrompt},
		{Role: "user", Content: prompt},
	})
	if err != nil {
		return Continuation{}, fmt.Errorf("generate story: %w", err)
	}
	result := Continuation{Story: story}
	if bookID == "" {
		return result, nil
	}
	if _, err := a.AddChapter(ctx, owner, bookID, story, idx); err != nil {
		// At-most-once gap: the generation already succeeded, so surface the
		// write failure alongside the story instead of discarding it.
		result.PersistErr = err
	}
	return result, nil
}

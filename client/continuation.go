package client

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"storyweave/pkg/domain"
)

// storySeparator joins chapter contents in the reconstructed story.
const storySeparator = "\n\n"

// ErrStaleResponse marks a network result that arrived after the selected
// book changed. The result must be discarded, never applied to the newer
// selection.
var ErrStaleResponse = errors.New("response for a previously selected book")

// ErrNoBookSelected is returned by operations that need an open book.
var ErrNoBookSelected = errors.New("no book selected")

// BookView is the in-memory view of one selected book: its chapters in
// reconstruction order, the derived story text, and the next idx to assign.
// It is recomputed from the chapter set on every load, never cached across
// writes.
type BookView struct {
	Book     domain.Book
	Chapters []domain.Chapter
	Story    string
	NextIdx  int
}

// SortChapters orders chapters for reconstruction: idx ascending, ties
// broken by createdAt ascending. Idx collisions happen when two writers
// race; the sort is stable so they are never dropped or reordered further.
func SortChapters(chapters []domain.Chapter) []domain.Chapter {
	sorted := make([]domain.Chapter, len(chapters))
	copy(sorted, chapters)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Idx != sorted[j].Idx {
			return sorted[i].Idx < sorted[j].Idx
		}
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})
	return sorted
}

// ReconstructStory derives the full story text from a chapter set. Pure
// function: equal chapter sets always yield equal stories.
func ReconstructStory(chapters []domain.Chapter) string {
	sorted := SortChapters(chapters)
	parts := make([]string, 0, len(sorted))
	for _, chapter := range sorted {
		parts = append(parts, chapter.Content)
	}
	return strings.Join(parts, storySeparator)
}

// NextIdx computes the idx for the next appended chapter: max(idx)+1, or 1
// for an empty book. Advisory only; two concurrent clients can compute the
// same value and reconstruction resolves the collision by createdAt.
func NextIdx(chapters []domain.Chapter) int {
	if len(chapters) == 0 {
		return 1
	}
	maxIdx := chapters[0].Idx
	for _, chapter := range chapters[1:] {
		if chapter.Idx > maxIdx {
			maxIdx = chapter.Idx
		}
	}
	return maxIdx + 1
}

func buildView(book domain.Book, chapters []domain.Chapter) BookView {
	sorted := SortChapters(chapters)
	return BookView{
		Book:     book,
		Chapters: sorted,
		Story:    ReconstructStory(sorted),
		NextIdx:  NextIdx(sorted),
	}
}

// Continuation drives the chapter continuation workflow for one selected
// book at a time. Every network call is validated against the selection
// generation that issued it, so a call finishing after the user switched
// books cannot overwrite newer state.
type Continuation struct {
	api      *Client
	sessions *SessionManager

	mu         sync.Mutex
	generation uint64
	view       *BookView
}

// NewContinuation constructs the workflow over an authenticated session
// source.
func NewContinuation(api *Client, sessions *SessionManager) *Continuation {
	return &Continuation{api: api, sessions: sessions}
}

// CreateBook persists a new book. The title must be non-empty after
// trimming; validated locally before the call, re-validated by the server.
func (c *Continuation) CreateBook(ctx context.Context, title string) (domain.Book, error) {
	token, err := c.sessions.Token()
	if err != nil {
		return domain.Book{}, err
	}
	return c.api.CreateBook(ctx, token, title)
}

// ListBooks returns the caller's books, newest first.
func (c *Continuation) ListBooks(ctx context.Context) ([]domain.Book, error) {
	token, err := c.sessions.Token()
	if err != nil {
		return nil, err
	}
	return c.api.ListBooks(ctx, token)
}

// SelectBook loads a book, reconstructs its story, and makes it the active
// selection. A load that completes after another SelectBook started is
// discarded with ErrStaleResponse.
func (c *Continuation) SelectBook(ctx context.Context, bookID string) (BookView, error) {
	token, err := c.sessions.Token()
	if err != nil {
		return BookView{}, err
	}

	c.mu.Lock()
	c.generation++
	gen := c.generation
	c.view = nil
	c.mu.Unlock()

	book, chapters, err := c.api.GetBook(ctx, token, bookID)
	if err != nil {
		return BookView{}, err
	}
	view := buildView(book, chapters)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation != gen {
		return BookView{}, ErrStaleResponse
	}
	c.view = &view
	return view, nil
}

// Reload refetches the active book's chapters and recomputes the view.
func (c *Continuation) Reload(ctx context.Context) (BookView, error) {
	c.mu.Lock()
	if c.view == nil {
		c.mu.Unlock()
		return BookView{}, ErrNoBookSelected
	}
	bookID := c.view.Book.ID
	c.mu.Unlock()
	return c.SelectBook(ctx, bookID)
}

// View returns the current selection.
func (c *Continuation) View() (BookView, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.view == nil {
		return BookView{}, false
	}
	return *c.view, true
}

// AppendResult is the outcome of one continuation. PersistError is set when
// the server generated the story but could not save the chapter; the story
// is still usable and the user may retry persistence.
type AppendResult struct {
	Story        string
	PersistError string
	View         BookView
}

// AppendChapter generates a continuation for the prompt and persists it to
// the active book at the current NextIdx. The idx for the following call is
// advanced only after a confirmed persist, so failed calls never skip
// indices. A result that arrives after the selection changed is discarded.
func (c *Continuation) AppendChapter(ctx context.Context, prompt string) (AppendResult, error) {
	token, err := c.sessions.Token()
	if err != nil {
		return AppendResult{}, err
	}

	c.mu.Lock()
	if c.view == nil {
		c.mu.Unlock()
		return AppendResult{}, ErrNoBookSelected
	}
	gen := c.generation
	bookID := c.view.Book.ID
	idx := c.view.NextIdx
	c.mu.Unlock()

	story, persistError, err := c.api.NextStory(ctx, token, prompt, bookID, idx)
	if err != nil {
		return AppendResult{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation != gen || c.view == nil {
		return AppendResult{}, ErrStaleResponse
	}
	result := AppendResult{Story: story, PersistError: persistError}
	if persistError == "" {
		// The optimistic chapter carries a local timestamp so idx ties sort
		// the same way here as after a reload. The view is advisory until the
		// next Reload replaces it with the server's copy.
		chapter := domain.Chapter{BookID: bookID, Content: story, Idx: idx, CreatedAt: time.Now().UTC()}
		updated := buildView(c.view.Book, append(c.view.Chapters, chapter))
		c.view = &updated
		result.View = updated
	} else {
		result.View = *c.view
	}
	return result, nil
}

// Continue generates an ephemeral continuation: the story is returned but
// nothing is persisted and no selection is required.
func (c *Continuation) Continue(ctx context.Context, prompt string) (string, error) {
	token, err := c.sessions.Token()
	if err != nil {
		return "", err
	}
	story, _, err := c.api.NextStory(ctx, token, prompt, "", 0)
	return story, err
}

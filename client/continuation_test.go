package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"storyweave/pkg/domain"
)

func TestReconstructStoryJoinsInIdxOrder(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	chapters := []domain.Chapter{
		{Content: "they found a door", Idx: 2, CreatedAt: base.Add(time.Minute)},
		{Content: "Once upon a time", Idx: 1, CreatedAt: base},
	}
	got := ReconstructStory(chapters)
	want := "Once upon a time\n\nthey found a door"
	if got != want {
		t.Fatalf("reconstruction = %q, want %q", got, want)
	}
	// Idempotent: same input, same story.
	if again := ReconstructStory(chapters); again != got {
		t.Fatalf("second reconstruction differs: %q vs %q", again, got)
	}
}

func TestReconstructStoryBreaksIdxTiesByCreatedAt(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	chapters := []domain.Chapter{
		{Content: "late writer", Idx: 1, CreatedAt: base.Add(time.Second)},
		{Content: "early writer", Idx: 1, CreatedAt: base},
	}
	got := ReconstructStory(chapters)
	if got != "early writer\n\nlate writer" {
		t.Fatalf("tie-break wrong: %q", got)
	}
}

func TestNextIdx(t *testing.T) {
	if idx := NextIdx(nil); idx != 1 {
		t.Fatalf("empty book NextIdx = %d, want 1", idx)
	}
	chapters := []domain.Chapter{{Idx: 3}, {Idx: 1}, {Idx: 7}}
	if idx := NextIdx(chapters); idx != 8 {
		t.Fatalf("NextIdx = %d, want 8", idx)
	}
}

// continuationFixture serves one user with one book and records chapter
// writes made through /story/next.
type continuationFixture struct {
	srv  *httptest.Server
	mu   sync.Mutex
	book domain.Book

	chapters  []domain.Chapter
	storyGate chan struct{} // when set, /story/next blocks until closed
}

func newContinuationFixture(t *testing.T) *continuationFixture {
	t.Helper()
	f := &continuationFixture{
		book: domain.Book{ID: "b1", Title: "Atlas", CreatedAt: time.Now().UTC()},
	}
	user := domain.User{ID: "u1", Email: "r@example.com"}

	mux := http.NewServeMux()
	mux.HandleFunc("/auth/me", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]domain.User{"user": user})
	})
	mux.HandleFunc("/books/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		f.mu.Lock()
		defer f.mu.Unlock()
		if r.URL.Path != "/books/"+f.book.ID {
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "book not found"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"book": f.book, "chapters": f.chapters})
	})
	mux.HandleFunc("/story/next", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Prompt string `json:"prompt"`
			BookID string `json:"bookId"`
			Idx    int    `json:"idx"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.mu.Lock()
		gate := f.storyGate
		f.mu.Unlock()
		if gate != nil {
			<-gate
		}
		story := "chapter for " + req.Prompt
		if req.BookID != "" {
			f.mu.Lock()
			f.chapters = append(f.chapters, domain.Chapter{
				BookID: req.BookID, Content: story, Idx: req.Idx, CreatedAt: time.Now().UTC(),
			})
			f.mu.Unlock()
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"story": story})
	})
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func newAuthedContinuation(t *testing.T, baseURL string) *Continuation {
	t.Helper()
	api := New(baseURL)
	store := NewMemoryCredentialStore()
	_ = store.Save(Credentials{Token: "tok", User: domain.User{ID: "u1"}})
	manager := NewSessionManager(api, store)
	if _, ok, err := manager.Restore(context.Background()); !ok || err != nil {
		t.Fatalf("restore: ok=%v err=%v", ok, err)
	}
	return NewContinuation(api, manager)
}

func TestSelectBookBuildsView(t *testing.T) {
	f := newContinuationFixture(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f.chapters = []domain.Chapter{
		{BookID: "b1", Content: "they found a door", Idx: 2, CreatedAt: base.Add(time.Minute)},
		{BookID: "b1", Content: "Once upon a time", Idx: 1, CreatedAt: base},
	}

	workflow := newAuthedContinuation(t, f.srv.URL)
	view, err := workflow.SelectBook(context.Background(), "b1")
	if err != nil {
		t.Fatalf("select book: %v", err)
	}
	if view.Story != "Once upon a time\n\nthey found a door" {
		t.Fatalf("unexpected story: %q", view.Story)
	}
	if view.NextIdx != 3 {
		t.Fatalf("NextIdx = %d, want 3", view.NextIdx)
	}
}

func TestAppendChapterAdvancesIdxOnlyOnPersist(t *testing.T) {
	f := newContinuationFixture(t)
	workflow := newAuthedContinuation(t, f.srv.URL)

	if _, err := workflow.SelectBook(context.Background(), "b1"); err != nil {
		t.Fatalf("select book: %v", err)
	}

	first, err := workflow.AppendChapter(context.Background(), "begin")
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if first.View.NextIdx != 2 {
		t.Fatalf("after first append NextIdx = %d, want 2", first.View.NextIdx)
	}
	// The optimistic chapter must carry a timestamp so idx ties keep the
	// same order before and after a reload.
	if len(first.View.Chapters) != 1 || first.View.Chapters[0].CreatedAt.IsZero() {
		t.Fatalf("optimistic chapter missing timestamp: %+v", first.View.Chapters)
	}
	second, err := workflow.AppendChapter(context.Background(), "continue")
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if second.View.NextIdx != 3 {
		t.Fatalf("after second append NextIdx = %d, want 3", second.View.NextIdx)
	}
	if second.View.Story != "chapter for begin\n\nchapter for continue" {
		t.Fatalf("unexpected story: %q", second.View.Story)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.chapters) != 2 || f.chapters[0].Idx != 1 || f.chapters[1].Idx != 2 {
		t.Fatalf("server-side chapters wrong: %+v", f.chapters)
	}
}

func TestAppendChapterDiscardsLateResponseAfterReselect(t *testing.T) {
	f := newContinuationFixture(t)
	workflow := newAuthedContinuation(t, f.srv.URL)
	if _, err := workflow.SelectBook(context.Background(), "b1"); err != nil {
		t.Fatalf("select book: %v", err)
	}

	gate := make(chan struct{})
	f.mu.Lock()
	f.storyGate = gate
	f.mu.Unlock()

	results := make(chan error, 1)
	go func() {
		_, err := workflow.AppendChapter(context.Background(), "slow prompt")
		results <- err
	}()

	// The user switches books while the append is in flight.
	time.Sleep(20 * time.Millisecond)
	f.mu.Lock()
	f.storyGate = nil
	f.mu.Unlock()
	if _, err := workflow.SelectBook(context.Background(), "b1"); err != nil {
		t.Fatalf("reselect: %v", err)
	}
	close(gate)

	if err := <-results; !errors.Is(err, ErrStaleResponse) {
		t.Fatalf("expected ErrStaleResponse, got %v", err)
	}
}

func TestAppendChapterRequiresSelection(t *testing.T) {
	f := newContinuationFixture(t)
	workflow := newAuthedContinuation(t, f.srv.URL)
	if _, err := workflow.AppendChapter(context.Background(), "anything"); !errors.Is(err, ErrNoBookSelected) {
		t.Fatalf("expected ErrNoBookSelected, got %v", err)
	}
}

func TestContinueIsEphemeral(t *testing.T) {
	f := newContinuationFixture(t)
	workflow := newAuthedContinuation(t, f.srv.URL)

	story, err := workflow.Continue(context.Background(), "a detour")
	if err != nil {
		t.Fatalf("continue: %v", err)
	}
	if story != "chapter for a detour" {
		t.Fatalf("unexpected story: %q", story)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.chapters) != 0 {
		t.Fatalf("ephemeral continuation persisted chapters: %+v", f.chapters)
	}
}

package store

import (
	"context"

	"storyweave/pkg/domain"
)

// Store defines persistence operations for users, books, and chapters.
type Store interface {
	// users
	SaveUser(ctx context.Context, u domain.User) error
	HasUserEmail(ctx context.Context, email string) (bool, error)
	GetUserByEmail(ctx context.Context, email string) (domain.User, bool, error)
	GetUserByID(ctx context.Context, id string) (domain.User, bool, error)

	// books
	SaveBook(ctx context.Context, b domain.Book) error
	GetBook(ctx context.Context, id string) (domain.Book, bool, error)
	ListBooksByOwner(ctx context.Context, ownerID string) ([]domain.Book, error)

	// chapters
	SaveChapter(ctx context.Context, c domain.Chapter) error
	ListChapters(ctx context.Context, bookID string) ([]domain.Chapter, error)
}

// SessionStore issues and validates bearer tokens.
type SessionStore interface {
	NewSession(userID string) (string, error)
	GetUserIDByToken(token string) (string, bool, error)
	DeleteSession(token string) error
}

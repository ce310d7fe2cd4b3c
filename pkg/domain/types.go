package domain

import "time"

// User is the resolved identity of an authenticated caller. It is immutable
// once resolved from a token; the auth service owns the underlying record.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Book groups chapters under a title. Books are never mutated or deleted
// after creation.
type Book struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"-"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
}

// Chapter is one generated fragment of a book. Idx determines replay order;
// it is not required to be unique, ties are broken by CreatedAt at read time.
type Chapter struct {
	ID        string    `json:"id"`
	BookID    string    `json:"book_id"`
	Content   string    `json:"content"`
	Idx       int       `json:"idx"`
	CreatedAt time.Time `json:"created_at"`
}

package store

import "time"

// GORM models used for persistence.
type UserModel struct {
	ID           string    `gorm:"primaryKey"`
	Email        string    `gorm:"uniqueIndex;not null"`
	PasswordHash string    `gorm:"not null"`
	CreatedAt    time.Time `gorm:"not null"`
}

type BookModel struct {
	ID        string    `gorm:"primaryKey"`
	OwnerID   string    `gorm:"not null;index"`
	Title     string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null;index"`
}

// Idx is deliberately not unique per book: two writers may race to the same
// index, and read-time ordering resolves the tie by created_at.
type ChapterModel struct {
	ID        string    `gorm:"primaryKey"`
	BookID    string    `gorm:"not null;index"`
	Content   string    `gorm:"type:text;not null"`
	Idx       int       `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null;index"`
}

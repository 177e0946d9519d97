// internal/membership/domain.go
package membership

import (
	"strconv"
	"time"

	"bookmanager/internal/access"
)

// Reader represents a library reader.
type Reader struct {
	ID            int64     `json:"id" db:"id"`
	Name          string    `json:"name" db:"name"`
	Gender        string    `json:"gender" db:"gender"`
	Department    string    `json:"department,omitempty" db:"department"`
	ReaderType    string    `json:"reader_type,omitempty" db:"reader_type"`
	Contact       string    `json:"contact,omitempty" db:"contact"`
	Username      string    `json:"username" db:"username"`
	PasswordHash  string    `json:"-" db:"password_hash"`
	BorrowLimit   int       `json:"borrow_limit" db:"borrow_limit"`
	BorrowedCount int       `json:"borrowed_count" db:"borrowed_count"`
	Deleted       bool      `json:"-" db:"deleted"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}

// CanBorrow reports whether the reader is below their open-loan limit.
func (r *Reader) CanBorrow() bool {
	return r.BorrowedCount < r.BorrowLimit
}

// Admin is a staff account.
type Admin struct {
	ID           int64     `json:"id" db:"id"`
	Username     string    `json:"username" db:"username"`
	Name         string    `json:"name" db:"name"`
	PasswordHash string    `json:"-" db:"password_hash"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// ReaderInput creates or edits a reader. On update an empty Password keeps
// the current one and a zero BorrowLimit keeps the current limit.
type ReaderInput struct {
	Name        string `json:"name" validate:"required,max=64"`
	Gender      string `json:"gender" validate:"required,max=16"`
	Department  string `json:"department" validate:"max=128"`
	ReaderType  string `json:"reader_type" validate:"max=32"`
	Contact     string `json:"contact" validate:"max=128"`
	Username    string `json:"username" validate:"required,min=3,max=64"`
	Password    string `json:"password" validate:"omitempty,min=6,max=128"`
	BorrowLimit int    `json:"borrow_limit" validate:"gte=0,lte=100"`
}

// LoginResult is returned by a successful login.
type LoginResult struct {
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expires_at"`
	Role      access.Role `json:"role"`
	User      any         `json:"user"`
}

// Event types appended to reader streams.
const (
	EventReaderRegistered = "ReaderRegistered"
	EventReaderUpdated    = "ReaderUpdated"
	EventReaderRemoved    = "ReaderRemoved"

	StreamTypeReader = "reader"
)

// ReaderRegisteredEvent is published when a reader account is created.
type ReaderRegisteredEvent struct {
	ReaderID    int64  `json:"reader_id"`
	Username    string `json:"username"`
	BorrowLimit int    `json:"borrow_limit"`
	SelfService bool   `json:"self_service"`
}

// ReaderUpdatedEvent is published when a reader's profile changes.
type ReaderUpdatedEvent struct {
	ReaderID    int64 `json:"reader_id"`
	BorrowLimit int   `json:"borrow_limit"`
}

// ReaderStream names the event stream of a reader.
func ReaderStream(id int64) string {
	return "reader-" + strconv.FormatInt(id, 10)
}

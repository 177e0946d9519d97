// internal/membership/service.go
package membership

import (
	"context"

	"bookmanager/internal/access"
)

// Service defines the interface for the membership service.
type Service interface {
	// Login tries admin accounts first, then readers.
	Login(ctx context.Context, username, password string) (*LoginResult, error)
	// Register is the public self-registration path, rate limited per
	// clientIP.
	Register(ctx context.Context, clientIP string, in ReaderInput) (*Reader, error)

	CreateReader(ctx context.Context, p access.Principal, in ReaderInput) (*Reader, error)
	GetReader(ctx context.Context, p access.Principal, id int64) (*Reader, error)
	ListReaders(ctx context.Context, p access.Principal) ([]*Reader, error)
	UpdateReader(ctx context.Context, p access.Principal, id int64, in ReaderInput) (*Reader, error)
	DeleteReader(ctx context.Context, p access.Principal, id int64) error

	CreateAdmin(ctx context.Context, username, name, password string) (*Admin, error)
}

package port

import (
	"context"

	"github.com/nmoreno/biblioteca/internal/core/domain"
)

// CatalogGateway exposes the slice of book management the loan core needs.
type CatalogGateway interface {
	// FindBook returns the book or (nil, nil) when absent.
	FindBook(ctx context.Context, bookID string) (*domain.Book, error)
}

// PatronGateway exposes the slice of patron management the loan core needs.
type PatronGateway interface {
	// FindPatron returns the patron or (nil, nil) when absent.
	FindPatron(ctx context.Context, patronID string) (*domain.Patron, error)

	// FindPatronByUsername returns the patron or (nil, nil) when absent.
	// Used by the login edge only.
	FindPatronByUsername(ctx context.Context, username string) (*domain.Patron, error)
}

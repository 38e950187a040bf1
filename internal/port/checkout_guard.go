package port

import "context"

// CheckoutGuard serializes the checkout check-then-insert sequence with
// keyed reservations per book and per patron. The storage layer's own
// constraints remain authoritative; the guard keeps racing requests from
// reaching storage and turning into conflicts there.
type CheckoutGuard interface {
	// AcquireBook reserves the book, returning false if it is already held.
	AcquireBook(ctx context.Context, bookID string) (bool, error)

	// ReleaseBook frees the book's reservation (return, loss, or a failed
	// checkout).
	ReleaseBook(ctx context.Context, bookID string) error

	// TakePatronSlot atomically claims one of the patron's max open-loan
	// slots, returning false when all are taken.
	TakePatronSlot(ctx context.Context, patronID string, max int) (bool, error)

	// ReleasePatronSlot frees one slot, never dropping below zero.
	ReleasePatronSlot(ctx context.Context, patronID string) error
}

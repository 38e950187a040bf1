package domain

import "time"

// Book is the catalog view the loan core needs: identity and lendability.
// Full book management lives outside this service.
type Book struct {
	ID        string
	Title     string
	Author    string
	ISBN      string
	Active    bool
	CreatedAt time.Time
}

// Patron is the member view the loan core needs. PasswordHash is a bcrypt
// hash and only consulted by the login edge.
type Patron struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	Active       bool
	CreatedAt    time.Time
}

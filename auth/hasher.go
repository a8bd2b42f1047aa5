/*
hasher.go - bcrypt password hashing

The cost is configurable so tests can run at bcrypt.MinCost while
production uses the slower default of 12.
*/
package auth

import (
	"golang.org/x/crypto/bcrypt"
)

// DefaultBcryptCost is the production work factor.
const DefaultBcryptCost = 12

// Hasher hashes and verifies passwords with bcrypt.
type Hasher struct {
	Cost int
}

// NewHasher returns a hasher at the production cost.
func NewHasher() Hasher {
	return Hasher{Cost: DefaultBcryptCost}
}

// Hash returns the bcrypt hash of a plaintext password.
func (h Hasher) Hash(password string) (string, error) {
	cost := h.Cost
	if cost == 0 {
		cost = DefaultBcryptCost
	}
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	return string(bytes), err
}

// Verify reports whether password matches the stored hash. It satisfies
// VerifyFunc.
func (h Hasher) Verify(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

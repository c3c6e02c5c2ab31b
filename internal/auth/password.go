package auth

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"golang.org/x/crypto/bcrypt"
)

// Hasher turns passwords into salted one-way hashes.
type Hasher interface {
	Hash(password string) (string, error)
	Verify(password, hash string) bool
}

// BcryptHasher hashes passwords with bcrypt. The zero value uses bcrypt.DefaultCost.
type BcryptHasher struct {
	Cost int
}

// Hash hashes plaintext password using bcrypt.
func (h BcryptHasher) Hash(password string) (string, error) {
	if len(password) == 0 {
		return "", fmt.Errorf("%w: password is empty", ErrInvalidInput)
	}
	cost := h.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// Verify compares plaintext password with stored hash. A malformed hash never matches.
func (h BcryptHasher) Verify(password, hash string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// PasswordGenerator produces temporary passwords for administrative resets.
type PasswordGenerator interface {
	Generate() (string, error)
}

const (
	generatedPasswordLength  = 12
	generatedPasswordCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789!@#$%^&*"
)

// RandomPasswordGenerator draws characters uniformly from crypto/rand.
type RandomPasswordGenerator struct {
	Length int
}

func (g RandomPasswordGenerator) Generate() (string, error) {
	length := g.Length
	if length < generatedPasswordLength {
		length = generatedPasswordLength
	}
	limit := big.NewInt(int64(len(generatedPasswordCharset)))
	out := make([]byte, length)
	for i := range out {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("generate password: %w", err)
		}
		out[i] = generatedPasswordCharset[n.Int64()]
	}
	return string(out), nil
}

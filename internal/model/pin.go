package model

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

var ErrInvalidPIN = errors.New("PIN must be exactly 4 digits")

// SetPIN hashes and stores a 4-digit PIN on the person. Only the hash ever
// enters the household document.
func (p *Person) SetPIN(pin string) error {
	if len(pin) != 4 || !isDigits(pin) {
		return ErrInvalidPIN
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	s := string(hash)
	p.PINHash = &s
	return nil
}

// ClearPIN removes the person's PIN.
func (p *Person) ClearPIN() {
	p.PINHash = nil
}

// VerifyPIN reports whether pin matches the stored hash. A person without a
// PIN never verifies.
func (p *Person) VerifyPIN(pin string) bool {
	if p.PINHash == nil {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(*p.PINHash), []byte(pin)) == nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

package auth

import (
	"crypto/subtle"

	"golang.org/x/crypto/bcrypt"
)

// HashPassword is used by operators to produce admin.password_hash.
func HashPassword(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// CheckAdmin verifies the admin credentials. An empty configured hash
// disables admin login.
func CheckAdmin(wantUser, wantHash, user, password string) bool {
	if wantHash == "" {
		return false
	}
	userOK := subtle.ConstantTimeCompare([]byte(wantUser), []byte(user)) == 1
	passOK := bcrypt.CompareHashAndPassword([]byte(wantHash), []byte(password)) == nil
	return userOK && passOK
}

package session

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"net/url"
)

var displayIDSpan = big.NewInt(900000)

// NewDisplayID draws a random 6-digit id in 100000..999999.
func NewDisplayID() (string, error) {
	n, err := rand.Int(rand.Reader, displayIDSpan)
	if err != nil {
		return "", fmt.Errorf("generating display id: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}

// DefaultAvatarURL is the generated avatar for users without a picture.
func DefaultAvatarURL(email string) string {
	return "https://api.dicebear.com/7.x/avataaars/svg?seed=" + url.QueryEscape(email)
}

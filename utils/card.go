package utils

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

var ErrInvalidCard = errors.New("invalid card number")

// NormalizeCard strips spaces and dashes and checks the result is 12-19 digits.
func NormalizeCard(number string) (string, error) {
	digits := strings.Map(func(r rune) rune {
		if r == ' ' || r == '-' {
			return -1
		}
		return r
	}, number)
	if len(digits) < 12 || len(digits) > 19 {
		return "", ErrInvalidCard
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return "", ErrInvalidCard
		}
	}
	return digits, nil
}

// CardFingerprint returns a keyed hash of the card number and its last four digits.
// The number itself is never kept.
func CardFingerprint(secret, number string) (fingerprint, last4 string, err error) {
	digits, err := NormalizeCard(number)
	if err != nil {
		return "", "", err
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(digits))
	return hex.EncodeToString(mac.Sum(nil)), digits[len(digits)-4:], nil
}

func MaskCard(last4 string) string {
	return "**** **** **** " + last4
}

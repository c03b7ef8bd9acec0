// Package internal holds helpers shared by the engine and its sub-packages.
package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"
)

// NumericCode returns a string of digits drawn one at a time from
// crypto/rand, so every position is uniform and independent.
func NumericCode(digits int) (string, error) {
	if digits < 4 || digits > 10 {
		return "", errors.New("numeric code length outside 4..10")
	}

	var sb strings.Builder
	sb.Grow(digits)

	buf := make([]byte, 1)
	for i := 0; i < digits; i++ {
		for {
			if _, err := rand.Read(buf); err != nil {
				return "", err
			}
			// Reject 250..255 to keep the modulo unbiased.
			if buf[0] < 250 {
				sb.WriteByte('0' + buf[0]%10)
				break
			}
		}
	}

	return sb.String(), nil
}

// OpaqueToken returns n random bytes as unpadded URL-safe base64.
func OpaqueToken(n int) (string, error) {
	if n < 16 {
		return "", errors.New("opaque token needs at least 16 bytes")
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// SessionID returns a 128-bit random session identifier.
func SessionID() (string, error) {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf[:]), nil
}

// BackupCodes returns count unique recovery codes, each bytesEach random
// bytes rendered as uppercase hex.
func BackupCodes(count, bytesEach int) ([]string, error) {
	if count < 1 || bytesEach < 4 {
		return nil, errors.New("backup code parameters too small")
	}

	seen := make(map[string]struct{}, count)
	out := make([]string, 0, count)
	buf := make([]byte, bytesEach)

	for len(out) < count {
		if _, err := rand.Read(buf); err != nil {
			return nil, err
		}
		code := strings.ToUpper(hex.EncodeToString(buf))
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		out = append(out, code)
	}

	return out, nil
}

// HashSecret is the canonical digest for one-time codes and opaque tokens
// before they touch Redis. Plaintext secrets are never stored.
func HashSecret(secret string) [32]byte {
	return sha256.Sum256([]byte(secret))
}

// HashBackupCode binds a backup code digest to its account so equal codes
// on different accounts never share a stored hash.
func HashBackupCode(accountID, canonicalCode string) [32]byte {
	return sha256.Sum256([]byte(accountID + ":" + canonicalCode))
}

// CanonicalizeBackupCode strips the separators and casing a user might
// introduce when copying a displayed code.
func CanonicalizeBackupCode(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	code = strings.ReplaceAll(code, "-", "")
	return strings.ReplaceAll(code, " ", "")
}

package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

var (
	// ErrHashMalformed is returned for strings that are not PHC argon2id hashes.
	ErrHashMalformed = errors.New("malformed password hash")
	// ErrUnsupportedVersion is returned for argon2 versions this build cannot verify.
	ErrUnsupportedVersion = errors.New("unsupported argon2 version")
)

// Params are the argon2id cost settings. The defaults target roughly
// 100ms+ verification on commodity server hardware, which is the point of
// an adaptive hash: offline guessing has to pay the same bill.
type Params struct {
	Memory      uint32 // KiB
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultParams is the recommended production cost.
var DefaultParams = Params{
	Memory:      64 * 1024,
	Iterations:  3,
	Parallelism: 2,
	SaltLength:  16,
	KeyLength:   32,
}

// Hasher hashes and verifies passwords with a fixed parameter set.
type Hasher struct {
	params Params
}

// NewHasher validates the parameter set and returns a Hasher.
func NewHasher(params Params) (*Hasher, error) {
	if params.Memory < 8*1024 {
		return nil, errors.New("argon2 memory below 8 MiB")
	}
	if params.Iterations < 1 {
		return nil, errors.New("argon2 iterations must be >= 1")
	}
	if params.Parallelism < 1 {
		return nil, errors.New("argon2 parallelism must be >= 1")
	}
	if params.SaltLength < 8 || params.KeyLength < 16 {
		return nil, errors.New("argon2 salt/key length too small")
	}
	return &Hasher{params: params}, nil
}

// Hash derives a fresh-salt argon2id hash in PHC format:
//
//	$argon2id$v=19$m=65536,t=3,p=2$<salt>$<key>
func (h *Hasher) Hash(plaintext string) (string, error) {
	salt := make([]byte, h.params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}

	key := argon2.IDKey(
		[]byte(plaintext),
		salt,
		h.params.Iterations,
		h.params.Memory,
		h.params.Parallelism,
		h.params.KeyLength,
	)

	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		h.params.Memory,
		h.params.Iterations,
		h.params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify re-derives the key with the parameters embedded in encoded and
// compares in constant time.
func (h *Hasher) Verify(encoded, plaintext string) (bool, error) {
	params, salt, key, err := decode(encoded)
	if err != nil {
		return false, err
	}

	derived := argon2.IDKey(
		[]byte(plaintext),
		salt,
		params.Iterations,
		params.Memory,
		params.Parallelism,
		uint32(len(key)),
	)

	return subtle.ConstantTimeCompare(key, derived) == 1, nil
}

// NeedsRehash reports whether encoded was produced with weaker parameters
// than the Hasher's own, meaning the caller should re-hash on next login.
func (h *Hasher) NeedsRehash(encoded string) (bool, error) {
	params, _, key, err := decode(encoded)
	if err != nil {
		return false, err
	}
	return params.Memory < h.params.Memory ||
		params.Iterations < h.params.Iterations ||
		params.Parallelism < h.params.Parallelism ||
		uint32(len(key)) < h.params.KeyLength, nil
}

func decode(encoded string) (Params, []byte, []byte, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return Params{}, nil, nil, ErrHashMalformed
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return Params{}, nil, nil, ErrHashMalformed
	}
	if version != argon2.Version {
		return Params{}, nil, nil, ErrUnsupportedVersion
	}

	var params Params
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d",
		&params.Memory, &params.Iterations, &params.Parallelism); err != nil {
		return Params{}, nil, nil, ErrHashMalformed
	}
	if params.Memory == 0 || params.Iterations == 0 || params.Parallelism == 0 {
		return Params{}, nil, nil, ErrHashMalformed
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return Params{}, nil, nil, ErrHashMalformed
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return Params{}, nil, nil, ErrHashMalformed
	}
	if len(salt) == 0 || len(key) == 0 {
		return Params{}, nil, nil, ErrHashMalformed
	}

	params.SaltLength = uint32(len(salt))
	params.KeyLength = uint32(len(key))
	return params, salt, key, nil
}

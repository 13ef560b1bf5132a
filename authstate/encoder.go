package authstate

import (
	"crypto/cipher"
	"crypto/rand"
	"errors"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	envelopeVersionPlain  = 1
	envelopeVersionSealed = 2
)

var (
	// ErrEnvelopeInvalid is returned for values that are not a known envelope.
	ErrEnvelopeInvalid = errors.New("auth state envelope invalid")
	// ErrEnvelopeSealed is returned when a sealed value is read without a key.
	ErrEnvelopeSealed = errors.New("auth state envelope sealed, no encryption key configured")
	// ErrEncryptionKey is returned for keys that are not 32 bytes.
	ErrEncryptionKey = errors.New("auth state encryption key must be 32 bytes")
)

type sealer struct {
	aead cipher.AEAD
}

func newSealer(key []byte) (*sealer, error) {
	if len(key) == 0 {
		return &sealer{}, nil
	}
	if len(key) != chacha20poly1305.KeySize {
		return nil, ErrEncryptionKey
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	return &sealer{aead: aead}, nil
}

// encode wraps payload for storage under storageKey.
func (s *sealer) encode(storageKey string, payload []byte) ([]byte, error) {
	if s.aead == nil {
		out := make([]byte, 0, 1+len(payload))
		out = append(out, envelopeVersionPlain)
		return append(out, payload...), nil
	}

	nonceSize := s.aead.NonceSize()
	out := make([]byte, 1+nonceSize, 1+nonceSize+len(payload)+s.aead.Overhead())
	out[0] = envelopeVersionSealed
	if _, err := rand.Read(out[1 : 1+nonceSize]); err != nil {
		return nil, err
	}
	return s.aead.Seal(out, out[1:1+nonceSize], payload, []byte(storageKey)), nil
}

// decode unwraps a stored value read from storageKey.
func (s *sealer) decode(storageKey string, data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, ErrEnvelopeInvalid
	}

	switch data[0] {
	case envelopeVersionPlain:
		out := make([]byte, len(data)-1)
		copy(out, data[1:])
		return out, nil
	case envelopeVersionSealed:
		if s.aead == nil {
			return nil, ErrEnvelopeSealed
		}
		nonceSize := s.aead.NonceSize()
		if len(data) < 1+nonceSize+s.aead.Overhead() {
			return nil, ErrEnvelopeInvalid
		}
		nonce := data[1 : 1+nonceSize]
		plain, err := s.aead.Open(nil, nonce, data[1+nonceSize:], []byte(storageKey))
		if err != nil {
			return nil, ErrEnvelopeInvalid
		}
		return plain, nil
	default:
		return nil, ErrEnvelopeInvalid
	}
}

package authstate

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/MrEthical07/goSession/protocol"
	"github.com/rs/zerolog"
)

// DefaultPrefix is the key namespace used when Options.Prefix is empty.
const DefaultPrefix = "gosession:auth:"

var (
	// ErrStoreUnavailable wraps every backend write or scan failure.
	ErrStoreUnavailable = errors.New("auth state store unavailable")
	// ErrCredentialsGeneration is returned when fresh credentials cannot be produced.
	ErrCredentialsGeneration = errors.New("auth state credentials generation failed")
)

// Generator produces a fresh identity for a session with no stored state.
type Generator func(ctx context.Context) ([]byte, error)

// Credentials is the result of Load.
type Credentials struct {
	Data []byte
	// Fresh is true when Data was generated rather than read. Fresh
	// credentials are not persisted until the engine publishes an update.
	Fresh bool
}

// Options configures a Store.
type Options struct {
	Prefix string
	// EncryptionKey, when set, must be 32 bytes and enables sealed envelopes.
	EncryptionKey []byte
	Logger        zerolog.Logger
}

// Store reads and writes per-session auth state.
type Store struct {
	kv       KV
	prefix   string
	sealer   *sealer
	generate Generator
	log      zerolog.Logger
}

// NewStore builds a Store on kv. generate is used by Load for sessions
// without stored credentials.
func NewStore(kv KV, generate Generator, opts Options) (*Store, error) {
	if kv == nil {
		return nil, errors.New("authstate: kv is required")
	}
	if generate == nil {
		return nil, errors.New("authstate: credentials generator is required")
	}
	s, err := newSealer(opts.EncryptionKey)
	if err != nil {
		return nil, err
	}
	prefix := opts.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{
		kv:       kv,
		prefix:   prefix,
		sealer:   s,
		generate: generate,
		log:      opts.Logger.With().Str("component", "authstate").Logger(),
	}, nil
}

func (s *Store) namespace(sessionID string) string {
	return s.prefix + sessionID + ":"
}

func (s *Store) credsKey(sessionID string) string {
	return s.namespace(sessionID) + "creds"
}

func (s *Store) signalKey(sessionID, keyType, id string) string {
	return s.namespace(sessionID) + "key:" + keyType + ":" + id
}

// Load returns the stored credentials for sessionID. Missing, unreadable or
// undecodable state degrades to freshly generated credentials.
func (s *Store) Load(ctx context.Context, sessionID string) (Credentials, error) {
	key := s.credsKey(sessionID)
	raw, found, err := s.kv.Get(ctx, key)
	switch {
	case err != nil:
		s.log.Warn().Err(err).Str("session_id", sessionID).Msg("credentials read failed, starting fresh")
	case found:
		data, decodeErr := s.sealer.decode(key, raw)
		if decodeErr == nil {
			return Credentials{Data: data}, nil
		}
		s.log.Warn().Err(decodeErr).Str("session_id", sessionID).Msg("credentials undecodable, starting fresh")
	}

	data, err := s.generate(ctx)
	if err != nil {
		return Credentials{}, fmt.Errorf("%w: %v", ErrCredentialsGeneration, err)
	}
	return Credentials{Data: data, Fresh: true}, nil
}

// Save replaces the stored credentials for sessionID.
func (s *Store) Save(ctx context.Context, sessionID string, creds []byte) error {
	key := s.credsKey(sessionID)
	value, err := s.sealer.encode(key, creds)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	if err := s.kv.Set(ctx, key, value); err != nil {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return nil
}

// Remove deletes every key in the session namespace. Removing an empty
// namespace succeeds.
func (s *Store) Remove(ctx context.Context, sessionID string) error {
	keys, err := s.kv.ScanPrefix(ctx, s.namespace(sessionID))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := s.kv.Delete(ctx, keys...); err != nil {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	s.log.Debug().Str("session_id", sessionID).Int("keys", len(keys)).Msg("auth state removed")
	return nil
}

// GetKeys returns the stored records of keyType for ids. Absent or
// undecodable records are omitted.
func (s *Store) GetKeys(ctx context.Context, sessionID, keyType string, ids []string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.signalKey(sessionID, keyType, id)
	}
	values, err := s.kv.GetMany(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	for i, raw := range values {
		if raw == nil {
			continue
		}
		data, err := s.sealer.decode(keys[i], raw)
		if err != nil {
			s.log.Warn().Err(err).Str("session_id", sessionID).Str("key_type", keyType).Msg("key record undecodable")
			continue
		}
		out[ids[i]] = data
	}
	return out, nil
}

// SetKey stores one key record. A nil value deletes the record.
func (s *Store) SetKey(ctx context.Context, sessionID, keyType, id string, value []byte) error {
	key := s.signalKey(sessionID, keyType, id)
	if value == nil {
		if err := s.kv.Delete(ctx, key); err != nil {
			return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
		}
		return nil
	}
	encoded, err := s.sealer.encode(key, value)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	if err := s.kv.Set(ctx, key, encoded); err != nil {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return nil
}

// ClearKeys deletes the records of keyType for ids.
func (s *Store) ClearKeys(ctx context.Context, sessionID, keyType string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.signalKey(sessionID, keyType, id)
	}
	if err := s.kv.Delete(ctx, keys...); err != nil {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return nil
}

// Keys returns a protocol.KeyStore bound to sessionID.
func (s *Store) Keys(sessionID string) protocol.KeyStore {
	return sessionKeys{store: s, sessionID: sessionID}
}

// Sessions lists the ids that have stored credentials.
func (s *Store) Sessions(ctx context.Context) ([]string, error) {
	keys, err := s.kv.ScanPrefix(ctx, s.prefix)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	var ids []string
	for _, key := range keys {
		rest := strings.TrimPrefix(key, s.prefix)
		id, ok := strings.CutSuffix(rest, ":creds")
		if !ok || id == "" || strings.Contains(id, ":") {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

type sessionKeys struct {
	store     *Store
	sessionID string
}

func (k sessionKeys) Get(ctx context.Context, keyType string, ids []string) (map[string][]byte, error) {
	return k.store.GetKeys(ctx, k.sessionID, keyType, ids)
}

func (k sessionKeys) Set(ctx context.Context, keyType, id string, value []byte) error {
	return k.store.SetKey(ctx, k.sessionID, keyType, id, value)
}

func (k sessionKeys) Clear(ctx context.Context, keyType string, ids []string) error {
	return k.store.ClearKeys(ctx, k.sessionID, keyType, ids)
}

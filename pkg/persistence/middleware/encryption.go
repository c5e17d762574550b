package middleware

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/aretw0/chatflow/pkg/domain"
	"github.com/aretw0/chatflow/pkg/ports"
)

// envelopeKey marks a stored record as an encryption envelope.
const envelopeKey = "__encrypted__"

// EncryptionConfig holds the keys for encryption and decryption.
type EncryptionConfig struct {
	// ActiveKey is the key used for encrypting new data.
	// Must be 32 bytes for AES-256.
	ActiveKey []byte

	// FallbackKeys is a list of old keys to try when decryption fails.
	// This enables zero-downtime key rotation.
	FallbackKeys [][]byte
}

type encryptionMiddleware struct {
	next   ports.SessionStore
	config EncryptionConfig
}

// sensitivePayload is the encrypted part of a session: everything the
// user said plus the lead bag. Lifecycle fields (ids, timestamps,
// status, current node) stay plaintext so store indexes keep working.
type sensitivePayload struct {
	CollectedData  map[string]any        `json:"collected_data"`
	OfferedOptions []domain.Option       `json:"offered_options,omitempty"`
	Lead           *domain.Lead          `json:"lead_ref,omitempty"`
	History        []domain.HistoryEntry `json:"history"`
}

// NewEncryptionMiddleware creates a middleware that encrypts session
// content using AES-GCM.
func NewEncryptionMiddleware(config EncryptionConfig) Middleware {
	if len(config.ActiveKey) != 32 {
		panic("active key must be 32 bytes (AES-256)")
	}
	return func(next ports.SessionStore) ports.SessionStore {
		return &encryptionMiddleware{
			next:   next,
			config: config,
		}
	}
}

func (m *encryptionMiddleware) Save(ctx context.Context, session *domain.Session) error {
	payload := sensitivePayload{
		CollectedData:  session.CollectedData,
		OfferedOptions: session.OfferedOptions,
		Lead:           session.Lead,
		History:        session.History,
	}
	plainText, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal session payload: %w", err)
	}

	ciphertext, err := encrypt(plainText, m.config.ActiveKey)
	if err != nil {
		return fmt.Errorf("failed to encrypt session %s: %w", session.ID, err)
	}

	envelope := session.Clone()
	envelope.CollectedData = map[string]any{
		envelopeKey: base64.StdEncoding.EncodeToString(ciphertext),
	}
	envelope.OfferedOptions = nil
	envelope.Lead = nil
	envelope.History = nil

	return m.next.Save(ctx, envelope)
}

func (m *encryptionMiddleware) Load(ctx context.Context, sessionID string) (*domain.Session, error) {
	envelope, err := m.next.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return m.open(envelope)
}

func (m *encryptionMiddleware) Delete(ctx context.Context, sessionID string) error {
	return m.next.Delete(ctx, sessionID)
}

func (m *encryptionMiddleware) ListByUser(ctx context.Context, userID, tenantID string) ([]*domain.Session, error) {
	envelopes, err := m.next.ListByUser(ctx, userID, tenantID)
	if err != nil {
		return nil, err
	}
	return m.openAll(envelopes)
}

// List passes through: session IDs are lifecycle data and stay
// plaintext.
func (m *encryptionMiddleware) List(ctx context.Context) ([]string, error) {
	return m.next.List(ctx)
}

func (m *encryptionMiddleware) openAll(envelopes []*domain.Session) ([]*domain.Session, error) {
	sessions := make([]*domain.Session, 0, len(envelopes))
	for _, envelope := range envelopes {
		s, err := m.open(envelope)
		if err != nil {
			return nil, fmt.Errorf("session %s: %w", envelope.ID, err)
		}
		sessions = append(sessions, s)
	}
	return sessions, nil
}

// open decrypts an envelope back into a full session. A record without
// an envelope is rejected: once encryption is on, plaintext sessions in
// the store mean something is wrong.
func (m *encryptionMiddleware) open(envelope *domain.Session) (*domain.Session, error) {
	encryptedStr, ok := envelope.CollectedData[envelopeKey].(string)
	if !ok {
		return nil, errors.New("session is missing the encrypted data envelope")
	}

	ciphertext, err := base64.StdEncoding.DecodeString(encryptedStr)
	if err != nil {
		return nil, fmt.Errorf("failed to decode ciphertext base64: %w", err)
	}

	plainText, err := decryptWithRotation(ciphertext, m.config.ActiveKey, m.config.FallbackKeys)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt session: %w", err)
	}

	var payload sensitivePayload
	if err := json.Unmarshal(plainText, &payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal decrypted payload: %w", err)
	}

	session := envelope.Clone()
	session.CollectedData = payload.CollectedData
	session.OfferedOptions = payload.OfferedOptions
	session.Lead = payload.Lead
	session.History = payload.History
	return session, nil
}

// Helpers

func encrypt(plaintext []byte, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func decryptWithRotation(ciphertext []byte, activeKey []byte, fallbackKeys [][]byte) ([]byte, error) {
	if plain, err := decrypt(ciphertext, activeKey); err == nil {
		return plain, nil
	}

	for _, key := range fallbackKeys {
		if plain, err := decrypt(ciphertext, key); err == nil {
			return plain, nil
		}
	}

	return nil, errors.New("decryption failed with all available keys")
}

func decrypt(ciphertext []byte, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	if len(ciphertext) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}

	nonce := ciphertext[:gcm.NonceSize()]
	ciphertextBytes := ciphertext[gcm.NonceSize():]

	return gcm.Open(nil, nonce, ciphertextBytes, nil)
}

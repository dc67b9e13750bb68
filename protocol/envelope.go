package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/jmcleod/ironlink/crypto"
	"github.com/jmcleod/ironlink/internal/util"
)

// Envelope is the body of every encrypted request and response.
type Envelope struct {
	EncryptedData string `json:"encryptedData"`
	IV            string `json:"iv"`
	AuthTag       string `json:"authTag"`
}

// SealEnvelope encrypts payload under key.
func SealEnvelope(payload []byte, key *crypto.SymmetricKey) (*Envelope, error) {
	s, err := crypto.Encrypt(payload, key)
	if err != nil {
		return nil, err
	}
	return &Envelope{
		EncryptedData: util.B64Encode(s.Ciphertext),
		IV:            util.B64Encode(s.IV),
		AuthTag:       util.B64Encode(s.AuthTag),
	}, nil
}

// OpenEnvelope decrypts env. Malformed base64 or field sizes are reported as
// crypto.ErrDecryptionFailed, the same as a bad tag.
func OpenEnvelope(env *Envelope, key *crypto.SymmetricKey) ([]byte, error) {
	if env == nil {
		return nil, fmt.Errorf("%w: empty envelope", crypto.ErrDecryptionFailed)
	}
	ct, err := util.B64Decode(env.EncryptedData)
	if err != nil {
		return nil, fmt.Errorf("%w: encryptedData: %v", crypto.ErrDecryptionFailed, err)
	}
	iv, err := util.B64Decode(env.IV)
	if err != nil || len(iv) != util.GCMNonceSize {
		return nil, fmt.Errorf("%w: iv must be %d bytes of base64", crypto.ErrDecryptionFailed, util.GCMNonceSize)
	}
	tag, err := util.B64Decode(env.AuthTag)
	if err != nil || len(tag) != util.GCMTagSize {
		return nil, fmt.Errorf("%w: authTag must be %d bytes of base64", crypto.ErrDecryptionFailed, util.GCMTagSize)
	}
	return crypto.Decrypt(&crypto.Sealed{Ciphertext: ct, IV: iv, AuthTag: tag}, key)
}

// SealJSON marshals v and seals it into wire-ready envelope JSON.
func SealJSON(v any, key *crypto.SymmetricKey) ([]byte, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshaling payload: %w", err)
	}
	env, err := SealEnvelope(payload, key)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

// OpenJSON parses envelope JSON, decrypts it and unmarshals the plaintext
// into out. A body that is not an envelope fails with
// crypto.ErrDecryptionFailed.
func OpenJSON(body []byte, key *crypto.SymmetricKey, out any) error {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("%w: body is not an envelope: %v", crypto.ErrDecryptionFailed, err)
	}
	plain, err := OpenEnvelope(&env, key)
	if err != nil {
		return err
	}
	defer util.WipeBytes(plain)
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(plain, out); err != nil {
		return fmt.Errorf("decoding decrypted payload: %w", err)
	}
	return nil
}

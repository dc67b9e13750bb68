package crypto

import (
	"errors"
	"fmt"

	"github.com/jmcleod/ironlink/internal/util"
)

// Sealed is the output of Encrypt. The three buffers travel as separate
// wire fields.
type Sealed struct {
	Ciphertext []byte
	IV         []byte
	AuthTag    []byte
}

// Encrypt seals payload under key with AES-256-GCM and a fresh 96-bit IV.
func Encrypt(payload []byte, key *SymmetricKey) (*Sealed, error) {
	var s Sealed
	err := key.use(func(raw []byte) error {
		iv, ct, tag, err := util.SealGCM(payload, raw, nil)
		if err != nil {
			return err
		}
		s = Sealed{Ciphertext: ct, IV: iv, AuthTag: tag}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("encrypting payload: %w", err)
	}
	return &s, nil
}

// Decrypt opens s under key. Any tag mismatch, wrong IV length or wrong
// tag length is reported as ErrDecryptionFailed.
func Decrypt(s *Sealed, key *SymmetricKey) ([]byte, error) {
	if s == nil {
		return nil, fmt.Errorf("%w: nil message", ErrDecryptionFailed)
	}
	var out []byte
	err := key.use(func(raw []byte) error {
		pt, err := util.OpenGCM(s.IV, s.Ciphertext, s.AuthTag, raw, nil)
		if err != nil {
			return err
		}
		out = pt
		return nil
	})
	switch {
	case err == nil:
		return out, nil
	case errors.Is(err, util.ErrGCMOpen):
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	default:
		return nil, err
	}
}

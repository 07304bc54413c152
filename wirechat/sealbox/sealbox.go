// Package sealbox protects message payloads with a passphrase.
//
// Ciphertexts are age files using a single scrypt recipient, base64 encoded
// so they can travel as message content. The package holds no state.
package sealbox

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"filippo.io/age"
)

// DefaultWorkFactor is the scrypt log2(N) used by Seal.
const DefaultWorkFactor = 18

// ErrWrongPassphrase is returned by Open when the passphrase does not
// unlock the ciphertext.
var ErrWrongPassphrase = errors.New("sealbox: wrong passphrase")

// Sealer encrypts with a fixed scrypt work factor. The zero value uses
// DefaultWorkFactor.
type Sealer struct {
	WorkFactor int
}

// Seal encrypts plaintext with DefaultWorkFactor.
func Seal(plaintext []byte, passphrase string) (string, error) {
	return Sealer{}.Seal(plaintext, passphrase)
}

// Open decrypts a ciphertext produced by Seal.
func Open(ciphertext, passphrase string) ([]byte, error) {
	return Sealer{}.Open(ciphertext, passphrase)
}

func (s Sealer) workFactor() int {
	if s.WorkFactor <= 0 {
		return DefaultWorkFactor
	}
	return s.WorkFactor
}

// Seal encrypts plaintext and returns base64 text.
func (s Sealer) Seal(plaintext []byte, passphrase string) (string, error) {
	if passphrase == "" {
		return "", fmt.Errorf("sealbox: empty passphrase")
	}
	recipient, err := age.NewScryptRecipient(passphrase)
	if err != nil {
		return "", fmt.Errorf("creating scrypt recipient: %w", err)
	}
	recipient.SetWorkFactor(s.workFactor())

	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, recipient)
	if err != nil {
		return "", fmt.Errorf("creating age encryptor: %w", err)
	}
	if _, err := w.Write(plaintext); err != nil {
		return "", fmt.Errorf("writing plaintext: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalizing encryption: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// Open decrypts base64 text produced by Seal. Work factors above the
// sealer's own are refused.
func (s Sealer) Open(ciphertext, passphrase string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, fmt.Errorf("decoding base64 ciphertext: %w", err)
	}
	identity, err := age.NewScryptIdentity(passphrase)
	if err != nil {
		return nil, fmt.Errorf("creating scrypt identity: %w", err)
	}
	identity.SetMaxWorkFactor(max(s.workFactor(), DefaultWorkFactor))

	r, err := age.Decrypt(bytes.NewReader(raw), identity)
	if err != nil {
		var noMatch *age.NoIdentityMatchError
		if errors.As(err, &noMatch) {
			return nil, ErrWrongPassphrase
		}
		return nil, fmt.Errorf("decrypting: %w", err)
	}
	plaintext, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading plaintext: %w", err)
	}
	return plaintext, nil
}

// IsSealed reports whether content looks like a Seal result.
func IsSealed(content string) bool {
	raw, err := base64.StdEncoding.DecodeString(content)
	if err != nil {
		return false
	}
	return bytes.HasPrefix(raw, []byte("age-encryption.org/v1\n"))
}

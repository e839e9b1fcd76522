package envelope

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"fmt"

	"github.com/agentbridge/control-plane/internal/apierr"
)

// EncryptedString is the self-describing wire ciphertext format of spec.md
// §6.4: base64(dek_id_len(2B BE) || dek_id || AEAD_ciphertext || AEAD_tag ||
// nonce(12B)). Carrying the DEK id lets a later alias repoint still decrypt
// data sealed under the old DEK (invariant I4).
type EncryptedString string

const nonceSize = 12

// sealWithDEK seals plaintext under key (the DEK's 256-bit plaintext
// material), tagging the ciphertext with dekID so a decrypt call can
// recover the exact DEK regardless of what its alias currently points at.
func sealWithDEK(dekID string, key, plaintext, aad []byte) (EncryptedString, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return "", apierr.Wrap(apierr.Cryptographic, "construct AEAD", err)
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", apierr.Wrap(apierr.Cryptographic, "generate nonce", err)
	}

	sealed := aead.Seal(nil, nonce, plaintext, aad) // ciphertext || tag

	idBytes := []byte(dekID)
	if len(idBytes) > 0xFFFF {
		return "", apierr.New(apierr.Cryptographic, "dek id too long to encode")
	}

	buf := make([]byte, 0, 2+len(idBytes)+len(sealed)+nonceSize)
	var idLen [2]byte
	binary.BigEndian.PutUint16(idLen[:], uint16(len(idBytes)))
	buf = append(buf, idLen[:]...)
	buf = append(buf, idBytes...)
	buf = append(buf, sealed...)
	buf = append(buf, nonce...)

	return EncryptedString(base64.StdEncoding.EncodeToString(buf)), nil
}

// dekIDOf extracts the DEK id embedded in an EncryptedString without
// attempting to decrypt it, so callers can resolve the right key before
// calling openWithDEK.
func dekIDOf(ct EncryptedString) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(string(ct))
	if err != nil {
		return "", apierr.Wrap(apierr.Cryptographic, "decode ciphertext", err)
	}
	if len(raw) < 2 {
		return "", apierr.New(apierr.Cryptographic, "ciphertext too short")
	}
	idLen := int(binary.BigEndian.Uint16(raw[:2]))
	if len(raw) < 2+idLen {
		return "", apierr.New(apierr.Cryptographic, "ciphertext too short for dek id")
	}
	return string(raw[2 : 2+idLen]), nil
}

// openWithDEK decrypts ct using key, the plaintext material of the DEK whose
// id is embedded in ct (the caller must already have resolved it, e.g. via
// dekIDOf).
func openWithDEK(key []byte, ct EncryptedString, aad []byte) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(string(ct))
	if err != nil {
		return nil, apierr.Wrap(apierr.Cryptographic, "decode ciphertext", err)
	}
	if len(raw) < 2 {
		return nil, apierr.New(apierr.Cryptographic, "ciphertext too short")
	}
	idLen := int(binary.BigEndian.Uint16(raw[:2]))
	offset := 2 + idLen
	if len(raw) < offset+nonceSize {
		return nil, apierr.New(apierr.Cryptographic, "ciphertext too short")
	}
	body := raw[offset : len(raw)-nonceSize]
	nonce := raw[len(raw)-nonceSize:]

	aead, err := newAEAD(key)
	if err != nil {
		return nil, apierr.Wrap(apierr.Cryptographic, "construct AEAD", err)
	}
	plaintext, err := aead.Open(nil, nonce, body, aad)
	if err != nil {
		return nil, apierr.Wrap(apierr.Cryptographic, "decrypt", err)
	}
	return plaintext, nil
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("dek material must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Package rsakeys loads and caches the RSA keypair used by the login
// handshake (spec.md §4.2.1). Per spec.md §9's design note, the key is
// decoded once at startup rather than reloaded on every decrypt.
package rsakeys

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
)

// KeyPair is the cached, decoded RSA private key plus the public
// components (E, N) handed to clients by get_salt.
type KeyPair struct {
	private *rsa.PrivateKey
}

// Load reads and parses a PEM-encoded RSA private key from path, caching
// the decoded key for the lifetime of the process.
func Load(path string) (*KeyPair, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rsa key %s: %w", path, err)
	}

	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("rsa key %s: no PEM block found", path)
	}

	key, err := parsePrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("rsa key %s: %w", path, err)
	}

	return &KeyPair{private: key}, nil
}

func parsePrivateKey(der []byte) (*rsa.PrivateKey, error) {
	if key, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return key, nil
	}
	key, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("unsupported private key encoding: %w", err)
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is not RSA")
	}
	return rsaKey, nil
}

// PublicExponentModulus returns the (E, N) pair handed to clients by
// get_salt so they can encrypt the login ciphertext.
func (k *KeyPair) PublicExponentModulus() (e int, n []byte) {
	return k.private.PublicKey.E, k.private.PublicKey.N.Bytes()
}

// ErrDecryptFailed maps to the DECRYPT_FAILED errcode in spec.md §6.
var ErrDecryptFailed = fmt.Errorf("rsakeys: decrypt failed")

// Decrypt performs RSA PKCS1v15 decryption of the client-supplied
// ciphertext, returning the plaintext (salt ‖ password) on success.
func (k *KeyPair) Decrypt(ciphertext []byte) ([]byte, error) {
	plain, err := rsa.DecryptPKCS1v15(rand.Reader, k.private, ciphertext)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	return plain, nil
}

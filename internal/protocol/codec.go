package protocol

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/muurk/greehp/internal/logging"
)

const (
	// BlockSize is the AES block size and PKCS7 padding boundary
	BlockSize = aes.BlockSize

	// KeySize is the length of every key used by the protocol (AES-128)
	KeySize = 16

	// WellKnownKey is the fixed key used for discovery and binding only
	WellKnownKey = "a3K8Bx%2r8Y7#xDh"
)

// Cipher encrypts and decrypts packs with one fixed key.
// AES-ECB without authentication is what the device speaks.
type Cipher struct {
	key   string
	block cipher.Block
}

// NewCipher creates a pack cipher from a 16-byte ASCII key
func NewCipher(key string) (*Cipher, error) {
	if len(key) != KeySize {
		return nil, NewFramingError(fmt.Sprintf("key must be %d bytes, got %d", KeySize, len(key)), nil)
	}
	block, err := aes.NewCipher([]byte(key))
	if err != nil {
		return nil, NewFramingError("failed to create AES cipher", err)
	}
	return &Cipher{key: key, block: block}, nil
}

// Key returns the key this cipher was built from
func (c *Cipher) Key() string {
	return c.key
}

// Encode serializes v to JSON, pads, encrypts and base64-encodes it
func (c *Cipher) Encode(v any) (string, error) {
	plain, err := json.Marshal(v)
	if err != nil {
		return "", NewFramingError("failed to marshal pack", err)
	}

	padded := pkcs7Pad(plain)
	out := make([]byte, len(padded))
	for off := 0; off < len(padded); off += BlockSize {
		c.block.Encrypt(out[off:off+BlockSize], padded[off:off+BlockSize])
	}

	return base64.StdEncoding.EncodeToString(out), nil
}

// Decode reverses Encode, unmarshalling the pack into v, which must be a
// non-nil pointer. The pack is decoded into a fresh value that replaces *v
// only on success, so v is left untouched when any step fails.
func (c *Cipher) Decode(s string, v any) error {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return NewFramingError(fmt.Sprintf("cannot decode pack into %T", v), nil)
	}

	raw, err := c.Open(s)
	if err != nil {
		return err
	}

	if !json.Valid(raw) {
		logging.LogRawBytes("Decrypted pack is not JSON", raw)
		return NewFramingError("decrypted pack is not valid JSON", nil)
	}

	fresh := reflect.New(rv.Elem().Type())
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(fresh.Interface()); err != nil {
		return NewFramingError("failed to unmarshal pack", err)
	}
	rv.Elem().Set(fresh.Elem())
	return nil
}

// Open decrypts and unpads a pack, returning the plaintext bytes
func (c *Cipher) Open(s string) ([]byte, error) {
	ct, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, NewFramingError("invalid base64", err)
	}
	if len(ct) == 0 || len(ct)%BlockSize != 0 {
		return nil, NewFramingError(fmt.Sprintf("ciphertext length %d is not a positive multiple of %d", len(ct), BlockSize), nil)
	}

	plain := make([]byte, len(ct))
	for off := 0; off < len(ct); off += BlockSize {
		c.block.Decrypt(plain[off:off+BlockSize], ct[off:off+BlockSize])
	}

	out, err := pkcs7Unpad(plain)
	if err != nil {
		logging.LogRawBytes("Decrypted pack has bad padding", plain)
		return nil, err
	}
	return out, nil
}

// EncodePack encodes v with the given key
func EncodePack(v any, key string) (string, error) {
	c, err := NewCipher(key)
	if err != nil {
		return "", err
	}
	return c.Encode(v)
}

// DecodePack decodes s with the given key into v
func DecodePack(s string, key string, v any) error {
	c, err := NewCipher(key)
	if err != nil {
		return err
	}
	return c.Decode(s, v)
}

func pkcs7Pad(b []byte) []byte {
	n := BlockSize - len(b)%BlockSize
	return append(append(make([]byte, 0, len(b)+n), b...), bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(b []byte) ([]byte, error) {
	if len(b) == 0 {
		return nil, NewFramingError("empty plaintext", nil)
	}
	n := int(b[len(b)-1])
	if n == 0 || n > BlockSize || n > len(b) {
		return nil, NewFramingError(fmt.Sprintf("invalid padding length %d", n), nil)
	}
	for _, p := range b[len(b)-n:] {
		if int(p) != n {
			return nil, NewFramingError("invalid padding bytes", nil)
		}
	}
	return b[:len(b)-n], nil
}

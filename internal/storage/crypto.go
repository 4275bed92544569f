package storage

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
)

// cipherKey normalizes an arbitrary passphrase to the 32 bytes AES-256
// expects: pad with spaces, then truncate.
func cipherKey(passphrase string) []byte {
	if len(passphrase) < 32 {
		passphrase += strings.Repeat(" ", 32-len(passphrase))
	}
	return []byte(passphrase[:32])
}

// encrypt seals plaintext with AES-256-CBC under a fresh random IV and
// returns "hex(iv):hex(ciphertext)".
func encrypt(plaintext []byte, passphrase string) (string, error) {
	block, err := aes.NewCipher(cipherKey(passphrase))
	if err != nil {
		return "", err
	}

	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return "", err
	}

	padded := pkcs7Pad(plaintext, aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(ciphertext), nil
}

// decrypt reverses encrypt. A malformed blob, wrong key or corrupt padding
// surfaces as ErrDecryption.
func decrypt(encoded, passphrase string) ([]byte, error) {
	ivHex, ctHex, ok := strings.Cut(encoded, ":")
	if !ok {
		return nil, fmt.Errorf("%w: malformed blob", ErrDecryption)
	}
	iv, err := hex.DecodeString(ivHex)
	if err != nil || len(iv) != aes.BlockSize {
		return nil, fmt.Errorf("%w: bad iv", ErrDecryption)
	}
	ciphertext, err := hex.DecodeString(ctHex)
	if err != nil || len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: bad ciphertext", ErrDecryption)
	}

	block, err := aes.NewCipher(cipherKey(passphrase))
	if err != nil {
		return nil, err
	}
	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)

	unpadded, err := pkcs7Unpad(plaintext, aes.BlockSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryption, err)
	}
	return unpadded, nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, fmt.Errorf("invalid padded length %d", len(data))
	}
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize {
		return nil, fmt.Errorf("invalid padding byte %d", n)
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, fmt.Errorf("inconsistent padding")
		}
	}
	return data[:len(data)-n], nil
}

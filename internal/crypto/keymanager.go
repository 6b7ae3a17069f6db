// Package crypto resolves the hedge account's signing key, either from a raw
// hex value or from a password-protected key file.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// kdfIterations is the PBKDF2-HMAC-SHA256 work factor.
	kdfIterations = 480_000
	saltLen       = 16
	aesKeyLen     = 32
	keyFileV1     = 1
)

// ErrNoKey is returned by LoadKey when neither key source is configured.
var ErrNoKey = errors.New("crypto: no private key configured")

// keyFile is the on-disk format for an encrypted private key. Binary fields
// are base64 standard encoding.
type keyFile struct {
	Version    int    `json:"version"`
	Address    string `json:"address,omitempty"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// KeyConfig lists the places LoadKey looks for the signing key.
type KeyConfig struct {
	// RawPrivateKey is hex with or without 0x and wins when set.
	RawPrivateKey string
	// EncryptedKeyPath points at a file written by EncryptKey.
	EncryptedKeyPath string
	KeyPassword      string
}

// EncryptKey seals a hex private key under password with AES-256-GCM, using a
// PBKDF2 derived key. The returned JSON also records the key's address so an
// operator can tell key files apart without decrypting them.
func EncryptKey(privateKeyHex, password string) ([]byte, error) {
	if password == "" {
		return nil, errors.New("crypto: password must not be empty")
	}
	keyHex, err := normalizeKey(privateKeyHex)
	if err != nil {
		return nil, err
	}
	address, err := KeyAddress(keyHex)
	if err != nil {
		return nil, err
	}
	plain, _ := hex.DecodeString(keyHex)

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: generate salt: %w", err)
	}
	gcm, err := newGCM(password, salt)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: generate nonce: %w", err)
	}

	return json.MarshalIndent(keyFile{
		Version:    keyFileV1,
		Address:    address,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(gcm.Seal(nil, nonce, plain, nil)),
	}, "", "  ")
}

// DecryptKey opens a blob produced by EncryptKey and returns the private key
// as hex without the 0x prefix.
func DecryptKey(data []byte, password string) (string, error) {
	if password == "" {
		return "", errors.New("crypto: password must not be empty")
	}
	var kf keyFile
	if err := json.Unmarshal(data, &kf); err != nil {
		return "", fmt.Errorf("crypto: parse key file: %w", err)
	}
	if kf.Version != keyFileV1 {
		return "", fmt.Errorf("crypto: unsupported key file version %d", kf.Version)
	}

	fields := map[string][]byte{}
	for name, v := range map[string]string{"salt": kf.Salt, "nonce": kf.Nonce, "ciphertext": kf.Ciphertext} {
		b, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			return "", fmt.Errorf("crypto: decode %s: %w", name, err)
		}
		fields[name] = b
	}

	gcm, err := newGCM(password, fields["salt"])
	if err != nil {
		return "", err
	}
	if len(fields["nonce"]) != gcm.NonceSize() {
		return "", fmt.Errorf("crypto: nonce must be %d bytes", gcm.NonceSize())
	}
	plain, err := gcm.Open(nil, fields["nonce"], fields["ciphertext"], nil)
	if err != nil {
		return "", fmt.Errorf("crypto: decrypt key (wrong password?): %w", err)
	}
	return hex.EncodeToString(plain), nil
}

// LoadKey returns the configured private key as hex without 0x. The raw key
// takes precedence over the encrypted file.
func LoadKey(cfg KeyConfig) (string, error) {
	if cfg.RawPrivateKey != "" {
		k, err := normalizeKey(cfg.RawPrivateKey)
		if err != nil {
			return "", err
		}
		return k, nil
	}
	if cfg.EncryptedKeyPath == "" {
		return "", ErrNoKey
	}
	data, err := os.ReadFile(cfg.EncryptedKeyPath)
	if err != nil {
		return "", fmt.Errorf("crypto: read key file: %w", err)
	}
	return DecryptKey(data, cfg.KeyPassword)
}

// KeyAddress returns the checksummed address controlled by the hex key.
func KeyAddress(privateKeyHex string) (string, error) {
	keyHex, err := normalizeKey(privateKeyHex)
	if err != nil {
		return "", err
	}
	key, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return "", fmt.Errorf("crypto: parse private key: %w", err)
	}
	return ethcrypto.PubkeyToAddress(key.PublicKey).Hex(), nil
}

func normalizeKey(privateKeyHex string) (string, error) {
	k := strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x")
	b, err := hex.DecodeString(k)
	if err != nil {
		return "", fmt.Errorf("crypto: private key is not valid hex: %w", err)
	}
	if len(b) != 32 {
		return "", fmt.Errorf("crypto: expected 32-byte key, got %d bytes", len(b))
	}
	return strings.ToLower(k), nil
}

func newGCM(password string, salt []byte) (cipher.AEAD, error) {
	if len(salt) != saltLen {
		return nil, fmt.Errorf("crypto: salt must be %d bytes", saltLen)
	}
	block, err := aes.NewCipher(pbkdf2.Key([]byte(password), salt, kdfIterations, aesKeyLen, sha256.New))
	if err != nil {
		return nil, fmt.Errorf("crypto: create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: create gcm: %w", err)
	}
	return gcm, nil
}

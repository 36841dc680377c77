// Package identity manages the long-lived local secret key, its public
// Endpoint ID, and the CSPRNG-backed pairing verification codes.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"runtime"

	petname "github.com/dustinkirkland/golang-petname"
)

// KeyFileName is the name of the raw 32-byte secret key file under the
// config directory.
const KeyFileName = "node_secret.key"

const keyLen = 32

// ErrKeyCorrupt is returned when the key file exists but is not exactly
// keyLen bytes; the file is never silently overwritten in that case.
var ErrKeyCorrupt = errors.New("identity: key file exists but has the wrong length")

// Identity holds the local secret key and its derived Endpoint ID.
type Identity struct {
	SecretKey  [keyLen]byte
	EndpointID string
}

// LoadOrGenerate loads the secret key from <dir>/node_secret.key, creating
// one from a cryptographic RNG on first run. The file is created with mode
// 0600 on Unix via an atomic write-then-rename.
func LoadOrGenerate(dir string) (*Identity, error) {
	path := filepath.Join(dir, KeyFileName)

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if len(data) != keyLen {
			return nil, fmt.Errorf("%w: %s", ErrKeyCorrupt, path)
		}
		id := &Identity{}
		copy(id.SecretKey[:], data)
		id.EndpointID = endpointID(id.SecretKey)
		return id, nil
	case os.IsNotExist(err):
		return generate(dir, path)
	default:
		return nil, fmt.Errorf("identity: reading key file: %w", err)
	}
}

func generate(dir, path string) (*Identity, error) {
	id := &Identity{}
	if _, err := rand.Read(id.SecretKey[:]); err != nil {
		return nil, fmt.Errorf("identity: generating secret key: %w", err)
	}
	id.EndpointID = endpointID(id.SecretKey)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("identity: creating config dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".node_secret.key.tmp-*")
	if err != nil {
		return nil, fmt.Errorf("identity: creating temp key file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if _, err := tmp.Write(id.SecretKey[:]); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("identity: writing temp key file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("identity: closing temp key file: %w", err)
	}
	if runtime.GOOS != "windows" {
		if err := os.Chmod(tmpPath, 0o600); err != nil {
			return nil, fmt.Errorf("identity: setting key file permissions: %w", err)
		}
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return nil, fmt.Errorf("identity: installing key file: %w", err)
	}
	return id, nil
}

// endpointID derives the public Endpoint ID: the hex-encoded Ed25519 public
// key whose seed is the secret key.
func endpointID(sk [keyLen]byte) string {
	pub := ed25519.NewKeyFromSeed(sk[:]).Public().(ed25519.PublicKey)
	return hex.EncodeToString(pub)
}

// DefaultDisplayName returns a friendly two-word name (e.g. "brave-otter")
// for first-run setups that have not configured one explicitly.
func DefaultDisplayName() string {
	return petname.Generate(2, "-")
}

// GenerateVerificationCode returns a 4-decimal-digit string drawn uniformly
// from 0000-9999 using a cryptographic RNG. rand.Int already rejection-
// samples internally, so no modulo bias is introduced.
func GenerateVerificationCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(10000))
	if err != nil {
		return "", fmt.Errorf("identity: generating verification code: %w", err)
	}
	return fmt.Sprintf("%04d", n.Int64()), nil
}

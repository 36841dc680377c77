// Package config resolves the on-disk directory used for identity keys,
// the paired-device store and the transfer history log.
package config

import (
	"os"
	"path/filepath"
)

// testConfigDirEnv overrides the config directory; used only by tests so
// they never touch a developer's real $HOME/.p2p-transfer.
const testConfigDirEnv = "P2P_TEST_CONFIG_DIR"

// PairingTimeoutEnv overrides the pairing AWAIT_CODE timeout, in seconds.
const PairingTimeoutEnv = "P2P_PAIRING_TIMEOUT"

// NgrokAuthTokenEnv is recognized and threaded through configuration so a
// caller can tell whether a public tunnel token is available; starting the
// tunnel itself is outside this module (see SPEC_FULL.md §5).
const NgrokAuthTokenEnv = "NGROK_AUTHTOKEN"

// Dir returns the directory holding node_secret.key, paired_devices.txt and
// history.jsonl, creating it if necessary.
func Dir() (string, error) {
	if override := os.Getenv(testConfigDirEnv); override != "" {
		if err := os.MkdirAll(override, 0o755); err != nil {
			return "", err
		}
		return override, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, ".p2p-transfer")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

// Path joins Dir() with name, creating the parent directory as needed.
func Path(name string) (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}

// NgrokAuthToken returns the configured tunnel token, if any.
func NgrokAuthToken() string {
	return os.Getenv(NgrokAuthTokenEnv)
}

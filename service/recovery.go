/*
recovery.go - Offline admin recovery key file

A fresh installation writes a random key to a file next to the
database. Whoever can read that file can reset the admin password; the
filesystem is the trust boundary. The file is one line, "KEY: <value>",
so it can be printed and kept in a drawer.
*/
package service

import (
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
)

const recoveryKeyPrefix = "KEY: "

// EnsureRecoveryKey returns the recovery key at path, generating and
// writing a fresh one when the file does not exist yet. Reports whether
// this call created it so startup can tell the operator once.
func EnsureRecoveryKey(path string) (key string, created bool, err error) {
	existing, err := ReadRecoveryKey(path)
	if err == nil {
		return existing, false, nil
	}
	if !os.IsNotExist(err) {
		return "", false, err
	}

	key = uuid.NewString()
	content := recoveryKeyPrefix + key + "\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		return "", false, fmt.Errorf("write recovery key: %w", err)
	}
	return key, true, nil
}

// ReadRecoveryKey reads the key from the file at path. The underlying
// *PathError is returned unwrapped so callers can test os.IsNotExist.
func ReadRecoveryKey(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}

	for _, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, recoveryKeyPrefix) {
			return strings.TrimSpace(strings.TrimPrefix(line, recoveryKeyPrefix)), nil
		}
	}
	return "", fmt.Errorf("recovery key file %s has no %q line", path, strings.TrimSpace(recoveryKeyPrefix))
}

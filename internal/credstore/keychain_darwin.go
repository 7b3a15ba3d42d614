package credstore

import (
	"bytes"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

const keychainService = "quotabar"

// keychainStore shells out to the macOS security(1) tool. Avoiding cgo
// keeps cross-compilation trivial and the binary self-contained.
type keychainStore struct{}

func openKeychain() (Store, error) {
	if _, err := exec.LookPath("security"); err != nil {
		return nil, fmt.Errorf("security tool unavailable: %w", err)
	}
	return keychainStore{}, nil
}

func (keychainStore) Get(key string) (string, error) {
	out, err := exec.Command("security", "find-generic-password",
		"-s", keychainService, "-a", key, "-w").Output()
	if err != nil {
		var exit *exec.ExitError
		// security exits 44 (errSecItemNotFound) when the item is absent.
		if errors.As(err, &exit) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("keychain read %q: %w", key, err)
	}
	return strings.TrimRight(string(out), "\n"), nil
}

func (keychainStore) Set(key, value string) error {
	cmd := exec.Command("security", "add-generic-password",
		"-s", keychainService, "-a", key, "-w", value, "-U")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("keychain write %q: %w: %s", key, err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

func (keychainStore) Delete(key string) error {
	err := exec.Command("security", "delete-generic-password",
		"-s", keychainService, "-a", key).Run()
	if err != nil {
		var exit *exec.ExitError
		if errors.As(err, &exit) {
			return nil // already gone
		}
		return fmt.Errorf("keychain delete %q: %w", key, err)
	}
	return nil
}

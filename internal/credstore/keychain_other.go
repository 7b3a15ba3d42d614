//go:build !darwin

package credstore

import "errors"

func openKeychain() (Store, error) {
	return nil, errors.New("no system keychain on this platform")
}

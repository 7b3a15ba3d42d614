package credstore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/argon2"
)

const (
	credFileName = "credentials.enc"

	saltLen  = 16
	nonceLen = 12

	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = 32
)

// fileStore keeps credentials in a single AES-GCM encrypted file. The
// key is derived from machine-local identity, so the file is unreadable
// when copied to another host but needs no passphrase here.
type fileStore struct {
	mu   sync.Mutex
	path string
}

func openEncryptedFile(dir string) (Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	return &fileStore{path: filepath.Join(dir, credFileName)}, nil
}

func (s *fileStore) Get(key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.load()
	if err != nil {
		return "", err
	}
	v, ok := m[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (s *fileStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.load()
	if err != nil {
		return err
	}
	m[key] = value
	return s.save(m)
}

func (s *fileStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.load()
	if err != nil {
		return err
	}
	delete(m, key)
	return s.save(m)
}

func (s *fileStore) load() (map[string]string, error) {
	blob, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, err
	}
	if len(blob) < saltLen+nonceLen {
		return nil, fmt.Errorf("credential file %s truncated", s.path)
	}

	salt, nonce, ciphertext := blob[:saltLen], blob[saltLen:saltLen+nonceLen], blob[saltLen+nonceLen:]
	gcm, err := newGCM(salt)
	if err != nil {
		return nil, err
	}
	plain, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt credential file: %w", err)
	}

	var m map[string]string
	if err := json.Unmarshal(plain, &m); err != nil {
		return nil, fmt.Errorf("decode credential file: %w", err)
	}
	return m, nil
}

func (s *fileStore) save(m map[string]string) error {
	plain, err := json.Marshal(m)
	if err != nil {
		return err
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return err
	}
	gcm, err := newGCM(salt)
	if err != nil {
		return err
	}
	nonce := make([]byte, nonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return err
	}

	blob := append(append(salt, nonce...), gcm.Seal(nil, nonce, plain, nil)...)

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, blob, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func newGCM(salt []byte) (cipher.AEAD, error) {
	key := argon2.IDKey(machineSecret(), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func machineSecret() []byte {
	host, _ := os.Hostname()
	uid := ""
	if u, err := user.Current(); err == nil {
		uid = u.Uid
	}
	return []byte("quotabar:" + host + ":" + uid)
}

// Package credential keeps the access password for the proxied service.
package credential

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FileName is the password file inside the data directory.
const FileName = "password"

const secretBytes = 18

// ErrEmpty is returned when the password file exists but holds no secret.
var ErrEmpty = errors.New("credential file is empty")

// Path returns the password file location under dir.
func Path(dir string) string { return filepath.Join(dir, FileName) }

// Ensure returns the stored password, generating and persisting one first if
// none exists. The secret is stable for as long as the file is kept.
func Ensure(dir string) (string, error) {
	pw, err := Read(dir)
	if err == nil {
		return pw, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return "", err
	}
	pw, err = Generate()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	// O_EXCL: a concurrent writer wins and we read back its value.
	// #nosec G304
	f, err := os.OpenFile(Path(dir), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return Read(dir)
		}
		return "", fmt.Errorf("create credential: %w", err)
	}
	if _, err := f.WriteString(pw + "\n"); err != nil {
		_ = f.Close()
		_ = os.Remove(Path(dir))
		return "", fmt.Errorf("write credential: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return pw, nil
}

// Read returns the stored password.
func Read(dir string) (string, error) {
	b, err := os.ReadFile(Path(dir))
	if err != nil {
		return "", err
	}
	line, _, _ := strings.Cut(string(b), "\n")
	pw := strings.TrimSpace(line)
	if pw == "" {
		return "", ErrEmpty
	}
	return pw, nil
}

// Generate returns a new random secret.
func Generate() (string, error) {
	b := make([]byte, secretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate credential: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

package config

import (
	"crypto/rand"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

const (
	defaultUsername  = "admin"
	passwordFileName = "generated_password.txt"
)

// SecretsLoadStatus tells the caller whether secrets.json may be rewritten.
type SecretsLoadStatus int

const (
	// SecretsLoaded: the file was read and accepted.
	SecretsLoaded SecretsLoadStatus = iota
	// SecretsMissing: there is no file yet, creating one is safe.
	SecretsMissing
	// SecretsFallback: the file exists but was unreadable. Do not overwrite it.
	SecretsFallback
)

const redacted = "[REDACTED]"

// Secret is a string that never prints its value through fmt or slog.
type Secret string

func (s Secret) String() string { return redacted }
func (s Secret) GoString() string { return redacted }
func (s Secret) LogValue() slog.Value { return slog.StringValue(redacted) }
func (s Secret) Value() string { return string(s) }
func (s Secret) IsEmpty() bool { return s == "" }

// Secrets is the content of secrets.json. Marshaling it writes the real
// password, so only pass it to writeJSON.
type Secrets struct {
	SchemaVersion     int    `json:"schema_version"`
	BasicAuthUsername string `json:"basic_auth_username"`
	BasicAuthPassword Secret `json:"basic_auth_password"`
}

// HasBasicAuth reports whether both credentials are set.
func (s Secrets) HasBasicAuth() bool {
	return s.BasicAuthUsername != "" && !s.BasicAuthPassword.IsEmpty()
}

// LoadSecretsFrom reads secrets.json at path. On any failure it returns
// empty secrets together with SecretsFallback.
func LoadSecretsFrom(path string) (Secrets, SecretsLoadStatus, error) {
	empty := Secrets{SchemaVersion: CurrentSchemaVersion}

	var sec Secrets
	found, err := readJSON(path, &sec)
	switch {
	case err != nil:
		return empty, SecretsFallback, err
	case !found:
		return empty, SecretsMissing, nil
	case sec.SchemaVersion != CurrentSchemaVersion:
		return empty, SecretsFallback, fmt.Errorf("secrets schema version %d, want %d", sec.SchemaVersion, CurrentSchemaVersion)
	}
	return sec, SecretsLoaded, nil
}

// SaveSecretsTo writes sec to path, stamping the current schema version.
func SaveSecretsTo(sec Secrets, path string) error {
	sec.SchemaVersion = CurrentSchemaVersion
	return writeJSON(path, sec)
}

// EnsureLanAuth fills in missing Basic Auth credentials when LAN access is
// on. A freshly generated password is also returned in plaintext so it can
// be shown to the user once.
func EnsureLanAuth(s *Secrets, lanEnabled bool) (updated bool, generated string, err error) {
	if !lanEnabled {
		return false, "", nil
	}
	if s.BasicAuthUsername == "" {
		s.BasicAuthUsername = defaultUsername
		updated = true
	}
	if s.BasicAuthPassword.IsEmpty() {
		generated = rand.Text()
		s.BasicAuthPassword = Secret(generated)
		updated = true
	}
	return updated, generated, nil
}

// WritePasswordFile leaves freshly generated credentials in dir for the
// user to pick up and returns the file's path.
func WritePasswordFile(dir, username, password string) (string, error) {
	path := filepath.Join(dir, passwordFileName)
	body := fmt.Sprintf("Username: %s\nPassword: %s\n\nDelete this file once the credentials are stored elsewhere.\n", username, password)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		return "", fmt.Errorf("write password file: %w", err)
	}
	return path, nil
}

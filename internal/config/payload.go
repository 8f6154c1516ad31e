package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"gopkg.in/yaml.v3"

	scerrors "github.com/sourcecolon/sourcecolon/internal/errors"
)

// Serialize encodes a snapshot as the YAML configuration payload.
// Every field is written, so Deserialize(Serialize(c)) reproduces c exactly.
func Serialize(c *Config) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return buf.Bytes(), nil
}

// Deserialize decodes a configuration payload. Keys absent from the payload
// keep their defaults; unknown keys are rejected. The result is validated, and
// any failure is reported as ErrPayloadInvalid with nothing partially applied.
func Deserialize(data []byte) (*Config, error) {
	cfg := NewConfig()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, scerrors.PayloadError(errors.New("empty payload"))
		}
		return nil, scerrors.PayloadError(err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, scerrors.PayloadError(err)
	}
	return cfg, nil
}

// WriteFile persists a snapshot at path. The payload goes to a temporary file
// in the same directory which is then renamed over path, so concurrent readers
// see either the old or the new file. Writers from other processes are
// serialized through an flock on path+".lock".
func WriteFile(path string, c *Config) error {
	data, err := Serialize(c)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return scerrors.New(scerrors.ErrCodeConfigWrite, "failed to create config directory", err)
	}

	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return scerrors.New(scerrors.ErrCodeConfigWrite, "failed to lock config file", err)
	}
	defer func() { _ = lock.Unlock() }()

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return scerrors.New(scerrors.ErrCodeConfigWrite, "failed to create temp file", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return scerrors.New(scerrors.ErrCodeConfigWrite, "failed to write temp file", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return scerrors.New(scerrors.ErrCodeConfigWrite, "failed to sync temp file", err)
	}
	if err := tmp.Close(); err != nil {
		return scerrors.New(scerrors.ErrCodeConfigWrite, "failed to close temp file", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return scerrors.New(scerrors.ErrCodeConfigWrite, "failed to install config file", err)
	}
	return nil
}

// ReadFile reads and deserializes the snapshot stored at path.
func ReadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, scerrors.New(scerrors.ErrCodeConfigNotFound, fmt.Sprintf("config file %s not found", path), err)
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return Deserialize(data)
}

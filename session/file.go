package session

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"
)

const (
	dirMode         = 0o700
	fileMode        = 0o600
	tempFilePattern = ".sessions-*.toml"
)

type fileSchema struct {
	Sessions map[string]recordSchema `toml:"sessions"`
}

type recordSchema struct {
	SessionID string    `toml:"session_id"`
	Confirmed bool      `toml:"confirmed"`
	UpdatedAt time.Time `toml:"updated_at"`
}

func readFile(path string) ([]Record, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	var file fileSchema
	if err := toml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode file: %w", err)
	}

	records := make([]Record, 0, len(file.Sessions))
	for key, rs := range file.Sessions {
		if rs.SessionID == "" {
			continue
		}
		records = append(records, Record{
			UserKey:   key,
			SessionID: rs.SessionID,
			Confirmed: rs.Confirmed,
			UpdatedAt: rs.UpdatedAt,
		})
	}
	return records, nil
}

// writeFile replaces path atomically with the encoded records.
func writeFile(path string, records map[string]Record) error {
	if err := os.MkdirAll(filepath.Dir(path), dirMode); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	file := fileSchema{Sessions: make(map[string]recordSchema, len(records))}
	for key, r := range records {
		file.Sessions[key] = recordSchema{
			SessionID: r.SessionID,
			Confirmed: r.Confirmed,
			UpdatedAt: r.UpdatedAt.UTC().Truncate(time.Second),
		}
	}

	data, err := toml.Marshal(file)
	if err != nil {
		return fmt.Errorf("encode file: %w", err)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(path), tempFilePattern)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tempName := tempFile.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tempName)
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tempFile.Chmod(fileMode); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tempName, path); err != nil {
		return fmt.Errorf("replace file: %w", err)
	}

	cleanup = false
	return nil
}

// quarantine moves an unreadable file out of the way and returns its new name.
func quarantine(path string) (string, error) {
	backup := fmt.Sprintf("%s.corrupt-%d", path, time.Now().Unix())
	if err := os.Rename(path, backup); err != nil {
		return "", err
	}
	return backup, nil
}

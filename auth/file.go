package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultTokenFile is where the login flow leaves the access token.
const DefaultTokenFile = "data/access_token.txt"

// FileSource keeps the token as plain text with a JSON sidecar
// (<path>.meta) recording when it was issued.
type FileSource struct {
	Path string
}

type tokenMeta struct {
	Token     string    `json:"token"`
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"`
}

func NewFileSource(path string) *FileSource {
	if path == "" {
		path = DefaultTokenFile
	}
	return &FileSource{Path: path}
}

func (f *FileSource) Load(ctx context.Context) (Token, error) {
	b, err := os.ReadFile(f.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return Token{}, ErrNoToken
	}
	if err != nil {
		return Token{}, fmt.Errorf("read token: %w", err)
	}
	v := strings.TrimSpace(string(b))
	if v == "" {
		return Token{}, ErrNoToken
	}

	t := Token{Value: v}
	if mb, err := os.ReadFile(f.Path + ".meta"); err == nil {
		var m tokenMeta
		if json.Unmarshal(mb, &m) == nil {
			t.IssuedAt = m.Timestamp
		}
	}
	if t.IssuedAt.IsZero() {
		if st, err := os.Stat(f.Path); err == nil {
			t.IssuedAt = st.ModTime()
		}
	}
	return t, nil
}

func (f *FileSource) Save(ctx context.Context, t Token) error {
	if strings.TrimSpace(t.Value) == "" {
		return ErrNoToken
	}
	if t.IssuedAt.IsZero() {
		t.IssuedAt = time.Now()
	}
	if err := os.MkdirAll(filepath.Dir(f.Path), 0o700); err != nil {
		return err
	}
	if err := writeFileAtomic(f.Path, []byte(t.Value+"\n"), 0o600); err != nil {
		return fmt.Errorf("write token: %w", err)
	}

	meta, err := json.MarshalIndent(tokenMeta{
		Token:     t.Masked(),
		Timestamp: t.IssuedAt,
		Type:      "access_token",
	}, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(f.Path+".meta", meta, 0o600)
}

// writeFileAtomic writes data to path via tmp file, fsync and rename.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return err
	}

	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}

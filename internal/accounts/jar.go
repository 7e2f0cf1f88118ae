package accounts

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// jarDocument is the on-disk shape of the cookie store: one JSON document
// holding every account's jar plus a pointer at the most recently
// refreshed account.
type jarDocument struct {
	Accounts       map[string]*Jar `json:"accounts"`
	CurrentAccount string          `json:"current_account,omitempty"`
	LastUpdated    time.Time       `json:"last_updated"`
}

// jarStore persists the jar document. Callers are expected to serialize
// access; the Pool holds its mutex across load/save.
type jarStore struct {
	path string
}

func newJarStore(path string) *jarStore {
	return &jarStore{path: path}
}

// load reads the document from disk. A missing file yields an empty
// document rather than an error so a fresh deployment starts clean.
func (s *jarStore) load() (*jarDocument, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &jarDocument{Accounts: make(map[string]*Jar)}, nil
		}
		return nil, fmt.Errorf("read cookie store: %w", err)
	}

	var doc jarDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse cookie store: %w", err)
	}
	if doc.Accounts == nil {
		doc.Accounts = make(map[string]*Jar)
	}
	return &doc, nil
}

// save writes the document atomically via a temp file and rename, so a
// crash mid-write never leaves a truncated store behind.
func (s *jarStore) save(doc *jarDocument) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create cookie store directory: %w", err)
	}

	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cookie store: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("write cookie store: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace cookie store: %w", err)
	}
	return nil
}

package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/artdiffusion/a1111-bot/internal/logger"
)

// Store persists one JSON document per user under a data directory.
// A missing or unreadable document yields the defaults.
type Store struct {
	dir string

	mu sync.Mutex
}

func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create settings dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (st *Store) Load(userID int64) Settings {
	st.mu.Lock()
	defer st.mu.Unlock()
	data, err := os.ReadFile(st.path(userID))
	if err != nil {
		return Default()
	}
	var s Settings
	if err := json.Unmarshal(data, &s); err != nil {
		logger.Warnf("settings for user %d are corrupt, using defaults: %s", userID, err)
		return Default()
	}
	if s.Version > SchemaVersion {
		logger.Warnf("settings for user %d carry unknown version %d, using defaults", userID, s.Version)
		return Default()
	}
	s.Normalize()
	return s
}

func (st *Store) Save(userID int64, s Settings) error {
	s.Version = SchemaVersion
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	tmp := st.path(userID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	return os.Rename(tmp, st.path(userID))
}

func (st *Store) path(userID int64) string {
	return filepath.Join(st.dir, strconv.FormatInt(userID, 10)+".json")
}

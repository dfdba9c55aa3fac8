// Package settings provides the small keyed settings store: a file-backed
// key to JSON-value map with no schema versioning. Unreadable or corrupt
// content is ignored and callers fall back to their defaults.
package settings

import (
	"encoding/json"
	"os"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/mitchellh/mapstructure"
	zlog "github.com/rs/zerolog/log"
)

// Store is a file-backed key→JSON-value map.
type Store struct {
	mu     sync.Mutex
	path   string
	values map[string]json.RawMessage
}

// Open loads the store at path. A missing file yields an empty store; a
// file that fails to parse is treated the same way.
func Open(path string) *Store {
	s := &Store{
		path:   path,
		values: make(map[string]json.RawMessage),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			zlog.Warn().Msgf("settings: reading %s: %v", path, err)
		}
		return s
	}
	if err := json.Unmarshal(data, &s.values); err != nil {
		zlog.Warn().Msgf("settings: ignoring corrupt store %s: %v", path, err)
		s.values = make(map[string]json.RawMessage)
	}
	return s
}

// Get decodes the value stored under key into out. Returns false when the
// key is absent or the stored value does not fit out; out is then left for
// the caller's defaults.
func (s *Store) Get(key string, out any) bool {
	s.mu.Lock()
	raw, ok := s.values[key]
	s.mu.Unlock()
	if !ok {
		return false
	}

	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		zlog.Warn().Msgf("settings: ignoring corrupt value: key=%s error=%v", key, err)
		return false
	}

	// Scalars decode directly; structured values go through mapstructure so
	// duration fields stored as numbers or strings both work.
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return false
	}
	if err := decoder.Decode(generic); err != nil {
		zlog.Warn().Msgf("settings: ignoring unusable value: key=%s error=%v", key, err)
		return false
	}
	return true
}

// Set stores value under key and persists the whole map.
func (s *Store) Set(key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return errors.Wrapf(err, "encoding settings value %s", key)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = raw

	data, err := json.MarshalIndent(s.values, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encoding settings store")
	}
	if err := os.WriteFile(s.path, data, 0644); err != nil {
		return errors.Wrapf(err, "writing settings store %s", s.path)
	}
	return nil
}

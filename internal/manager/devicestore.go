package manager

import (
	"path/filepath"
	"sync"

	"pdu-bridge/internal/domain"
)

// deviceStore persists the device list to pdus.json, one document for
// the whole bridge, protected by a mutex since HTTP and env/file load
// can both trigger a rewrite.
type deviceStore struct {
	mu   sync.Mutex
	path string
}

func newDeviceStore(dataDir string) *deviceStore {
	return &deviceStore{path: filepath.Join(dataDir, "pdus.json")}
}

// Load returns the persisted device list, or an empty slice if the
// file has never been written.
func (s *deviceStore) Load() ([]domain.DeviceConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var devices []domain.DeviceConfig
	if err := readJSON(s.path, &devices); err != nil {
		return nil, err
	}
	return devices, nil
}

// Save persists the full device list atomically.
func (s *deviceStore) Save(devices []domain.DeviceConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeJSONAtomic(s.path, devices)
}

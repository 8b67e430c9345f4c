package mint

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"stablemint/crypto"
	"stablemint/storage"
)

const positionKeyPrefix = "mint/position/"

// PositionStore persists positions as JSON records in a key-value database.
type PositionStore struct {
	db storage.Database
}

// NewPositionStore wraps the database in an engineState implementation.
func NewPositionStore(db storage.Database) *PositionStore {
	return &PositionStore{db: db}
}

func positionKey(addr crypto.Address) []byte {
	return []byte(positionKeyPrefix + string(addr.Prefix()) + "/" + hex.EncodeToString(addr.Bytes()))
}

// GetPosition loads the stored position, returning nil when the account never
// held one.
func (s *PositionStore) GetPosition(addr crypto.Address) (*Position, error) {
	raw, err := s.db.Get(positionKey(addr))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	pos := &Position{}
	if err := json.Unmarshal(raw, pos); err != nil {
		return nil, fmt.Errorf("mint: decode position: %w", err)
	}
	pos.Address = addr
	return pos, nil
}

// PutPosition stores the position.
func (s *PositionStore) PutPosition(pos *Position) error {
	if pos == nil {
		return errors.New("mint: nil position")
	}
	raw, err := json.Marshal(pos)
	if err != nil {
		return fmt.Errorf("mint: encode position: %w", err)
	}
	return s.db.Put(positionKey(pos.Address), raw)
}

// MemoryState is an in-memory engineState used by tests and local tooling.
type MemoryState struct {
	mu        sync.RWMutex
	positions map[string]*Position
}

// NewMemoryState constructs an empty in-memory position ledger.
func NewMemoryState() *MemoryState {
	return &MemoryState{positions: make(map[string]*Position)}
}

func (s *MemoryState) key(addr crypto.Address) string {
	return string(addr.Prefix()) + "/" + hex.EncodeToString(addr.Bytes())
}

// GetPosition returns a copy of the stored position, nil when absent.
func (s *MemoryState) GetPosition(addr crypto.Address) (*Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pos, ok := s.positions[s.key(addr)]
	if !ok {
		return nil, nil
	}
	return pos.Clone(), nil
}

// PutPosition stores a copy of the position.
func (s *MemoryState) PutPosition(pos *Position) error {
	if pos == nil {
		return errors.New("mint: nil position")
	}
	s.mu.Lock()
	s.positions[s.key(pos.Address)] = pos.Clone()
	s.mu.Unlock()
	return nil
}

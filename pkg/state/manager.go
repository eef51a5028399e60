package state

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/smallyunet/ethfill/pkg/block"
	"github.com/smallyunet/ethfill/pkg/types"
)

// Manager tracks the running state of one chain under construction: the
// current allocation, the environment the head was built in, and the head
// header, plus the hash of every canonical block.
type Manager struct {
	mu sync.RWMutex

	alloc types.Alloc
	env   *types.Environment
	head  *block.Header

	// Block hash mappings
	heightToHash map[uint64]common.Hash
	hashToHeight map[common.Hash]uint64
}

// NewManager starts a chain at genesis. The arguments are copied.
func NewManager(alloc types.Alloc, env *types.Environment, genesis *block.Header) *Manager {
	hash := genesis.Hash()
	return &Manager{
		alloc:        alloc.Copy(),
		env:          env.Copy(),
		head:         genesis.Copy(),
		heightToHash: map[uint64]common.Hash{genesis.Number: hash},
		hashToHeight: map[common.Hash]uint64{hash: genesis.Number},
	}
}

// Snapshot returns deep copies of the current allocation, environment and
// head. Callers may mutate them freely.
func (m *Manager) Snapshot() (types.Alloc, *types.Environment, *block.Header) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.alloc.Copy(), m.env.Copy(), m.head.Copy()
}

// Advance makes header the new head. It must extend the current head; only
// valid blocks are ever applied.
func (m *Manager) Advance(alloc types.Alloc, env *types.Environment, header *block.Header) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if header.Number != m.head.Number+1 {
		return fmt.Errorf("block %d does not extend head %d", header.Number, m.head.Number)
	}
	headHash := m.heightToHash[m.head.Number]
	if header.ParentHash != headHash {
		return fmt.Errorf("block %d parent %s is not head %s", header.Number, header.ParentHash.Hex(), headHash.Hex())
	}

	hash := header.Hash()
	m.alloc = alloc.Copy()
	m.env = env.Copy()
	m.head = header.Copy()
	m.heightToHash[header.Number] = hash
	m.hashToHeight[hash] = header.Number

	return nil
}

// Head returns a copy of the head header and its hash.
func (m *Manager) Head() (*block.Header, common.Hash) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.head.Copy(), m.heightToHash[m.head.Number]
}

// HashAt returns the hash of the canonical block at height.
func (m *Manager) HashAt(height uint64) (common.Hash, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	hash, exists := m.heightToHash[height]
	if !exists {
		return common.Hash{}, fmt.Errorf("block at height %d not found", height)
	}

	return hash, nil
}

// HeightOf returns the height of a canonical block.
func (m *Manager) HeightOf(hash common.Hash) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	height, exists := m.hashToHeight[hash]
	if !exists {
		return 0, fmt.Errorf("block with hash %s not found", hash.Hex())
	}

	return height, nil
}

// Stats returns counters for logging.
func (m *Manager) Stats() []interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return []interface{}{
		"head", m.head.Number,
		"accounts", len(m.alloc),
		"blocks", len(m.heightToHash),
	}
}

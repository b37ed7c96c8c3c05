package swap

import (
	"errors"
	"sync"
	"time"

	"github.com/monero-btc-swap/swapd/common/types"
	"github.com/monero-btc-swap/swapd/db"
)

var errNoSwapWithID = errors.New("swap: unable to find swap with given id")

// Manager tracks current and past swaps, backed by db.Database (spec §4.4).
type Manager interface {
	AddSwap(info *Info) error
	WriteSwapToDB(info *Info) error
	GetPastIDs() ([]types.SwapID, error)
	GetPastSwap(types.SwapID) (*Info, error)
	GetOngoingSwap(types.SwapID) (Info, error)
	GetOngoingSwaps() ([]*Info, error)
	CompleteOngoingSwap(info *Info) error
	HasOngoingSwap(types.SwapID) bool
}

// manager implements Manager. Ongoing swaps are fully populated in memory;
// past swaps are cached lazily as they're looked up.
type manager struct {
	db db.Database
	sync.RWMutex
	ongoing map[types.SwapID]*Info
	past    map[types.SwapID]*Info
}

var _ Manager = (*manager)(nil)

// NewManager returns a new Manager backed by store, loading all ongoing
// swaps into memory at construction so AllSwaps need not be re-walked on
// every lookup.
func NewManager(store db.Database) (Manager, error) {
	ongoing := make(map[types.SwapID]*Info)

	ids, err := store.AllSwaps()
	if err != nil {
		return nil, err
	}

	for _, id := range ids {
		var info Info
		_, err := store.GetState(id, &info)
		if err != nil {
			continue
		}
		if info.Status.IsOngoing() {
			ongoing[id] = &info
		}
	}

	return &manager{
		db:      store,
		ongoing: ongoing,
		past:    make(map[types.SwapID]*Info),
	}, nil
}

// AddSwap adds the given swap Info to the Manager.
func (m *manager) AddSwap(info *Info) error {
	m.Lock()
	defer m.Unlock()

	if info.Status.IsOngoing() {
		m.ongoing[info.SwapID] = info
	} else {
		m.past[info.SwapID] = info
	}

	return m.db.InsertLatestState(info.SwapID, info.Role, info)
}

// WriteSwapToDB persists info without changing the manager's in-memory
// ongoing/past classification.
func (m *manager) WriteSwapToDB(info *Info) error {
	return m.db.InsertLatestState(info.SwapID, info.Role, info)
}

// GetPastIDs returns all past swap IDs, merging the in-memory cache with
// whatever the store additionally knows about.
func (m *manager) GetPastIDs() ([]types.SwapID, error) {
	m.RLock()
	defer m.RUnlock()

	ids := make(map[types.SwapID]struct{})
	for id := range m.past {
		ids[id] = struct{}{}
	}

	stored, err := m.db.AllSwaps()
	if err != nil {
		return nil, err
	}
	for _, id := range stored {
		if _, ongoing := m.ongoing[id]; ongoing {
			continue
		}
		ids[id] = struct{}{}
	}

	idArr := make([]types.SwapID, 0, len(ids))
	for id := range ids {
		idArr = append(idArr, id)
	}
	return idArr, nil
}

// GetPastSwap returns a completed swap's Info given its ID.
func (m *manager) GetPastSwap(id types.SwapID) (*Info, error) {
	m.RLock()
	s, has := m.past[id]
	m.RUnlock()
	if has {
		return s, nil
	}

	s, err := m.getSwapFromDB(id)
	if err != nil {
		return nil, err
	}

	m.Lock()
	m.past[id] = s
	m.Unlock()
	return s, nil
}

// GetOngoingSwap returns the ongoing swap's Info, if there is one.
func (m *manager) GetOngoingSwap(id types.SwapID) (Info, error) {
	m.RLock()
	defer m.RUnlock()
	s, has := m.ongoing[id]
	if !has {
		return Info{}, errNoSwapWithID
	}
	return *s, nil
}

// GetOngoingSwaps returns all ongoing swaps.
func (m *manager) GetOngoingSwaps() ([]*Info, error) {
	m.RLock()
	defer m.RUnlock()
	swaps := make([]*Info, 0, len(m.ongoing))
	for _, s := range m.ongoing {
		sCopy := *s
		swaps = append(swaps, &sCopy)
	}
	return swaps, nil
}

// CompleteOngoingSwap marks the current ongoing swap as completed and
// re-persists it (spec §4.4's "writes are atomic per swap").
func (m *manager) CompleteOngoingSwap(info *Info) error {
	m.Lock()
	defer m.Unlock()
	if _, has := m.ongoing[info.SwapID]; !has {
		return errNoSwapWithID
	}

	now := time.Now()
	info.EndTime = &now

	m.past[info.SwapID] = info
	delete(m.ongoing, info.SwapID)

	return m.db.InsertLatestState(info.SwapID, info.Role, info)
}

// HasOngoingSwap returns true if the given ID is an ongoing swap.
func (m *manager) HasOngoingSwap(id types.SwapID) bool {
	m.RLock()
	defer m.RUnlock()
	_, has := m.ongoing[id]
	return has
}

func (m *manager) getSwapFromDB(id types.SwapID) (*Info, error) {
	var info Info
	_, err := m.db.GetState(id, &info)
	if errors.Is(err, db.ErrNotFound) {
		return nil, errNoSwapWithID
	}
	if err != nil {
		return nil, err
	}
	return &info, nil
}

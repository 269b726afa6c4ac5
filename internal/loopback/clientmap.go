package loopback

import (
	"errors"
	"log/slog"
	"sync"
)

// ClientMap keeps a registry of connected clients under a protocol that
// lets the realtime worker read it without ever blocking behind a mutator:
// every mutation is applied to a shadow copy first, then a synchronous task
// on the realtime worker swaps shadow and primary, then the same mutation
// is re-applied to what is now the (old-primary) shadow, bringing the two
// back into agreement. Readers on the realtime path only ever touch
// primary, and only briefly, under mapsLock, to guard the swap itself.
//
// Grounded on RDC_ClientMap's mutate/swap/mutate dance; secondary indices
// (byPID, byBundle) store client IDs, not pointers, so they never need
// their own swap step.
type ClientMap struct {
	taskQueue *TaskQueue
	logger    *slog.Logger

	// shadowLock serializes non-realtime mutators against each other.
	shadowLock sync.Mutex
	// mapsLock guards the primary maps against the realtime swap task.
	mapsLock sync.Mutex

	byID     map[uint32]Client
	byPID    map[int32][]uint32
	byBundle map[string][]uint32

	byIDShadow     map[uint32]Client
	byPIDShadow    map[int32][]uint32
	byBundleShadow map[string][]uint32

	pastClientsMu sync.Mutex
	pastClients   map[string]Client
}

// NewClientMap constructs an empty ClientMap. tq is used to schedule the
// realtime-thread map swap that every mutation requires.
func NewClientMap(tq *TaskQueue, logger *slog.Logger) *ClientMap {
	if logger == nil {
		logger = slog.Default()
	}
	return &ClientMap{
		taskQueue:      tq,
		logger:         logger,
		byID:           make(map[uint32]Client),
		byPID:          make(map[int32][]uint32),
		byBundle:       make(map[string][]uint32),
		byIDShadow:     make(map[uint32]Client),
		byPIDShadow:    make(map[int32][]uint32),
		byBundleShadow: make(map[string][]uint32),
		pastClients:    make(map[string]Client),
	}
}

func removeID(ids []uint32, id uint32) []uint32 {
	out := ids[:0]
	for _, existing := range ids {
		if existing != id {
			out = append(out, existing)
		}
	}
	return out
}

// swapShadowMapsRT exchanges primary and shadow. Only the realtime worker
// calls this, via a TaskSwapClientShadowMaps task.
func (m *ClientMap) swapShadowMapsRT() {
	m.mapsLock.Lock()
	m.byID, m.byIDShadow = m.byIDShadow, m.byID
	m.byPID, m.byPIDShadow = m.byPIDShadow, m.byPID
	m.byBundle, m.byBundleShadow = m.byBundleShadow, m.byBundle
	m.mapsLock.Unlock()
}

func (m *ClientMap) syncSwap() {
	if _, err := m.taskQueue.QueueSync(TaskSwapClientShadowMaps, true, m, nil); err != nil {
		m.logger.Error("client map swap task failed", "err", err)
	}
}

// Add registers a new client. It fails with ErrInvalidClient if the ID is
// already in use.
func (m *ClientMap) Add(c Client) error {
	m.shadowLock.Lock()
	defer m.shadowLock.Unlock()

	if _, exists := m.byIDShadow[c.ClientID]; exists {
		return newError(KindInvalidClient, "ClientMap.Add", errors.New("client id already registered"))
	}

	mutate := func(byID map[uint32]Client, byPID map[int32][]uint32, byBundle map[string][]uint32) {
		byID[c.ClientID] = c
		byPID[c.ProcessID] = append(byPID[c.ProcessID], c.ClientID)
		if c.BundleID != "" {
			byBundle[c.BundleID] = append(byBundle[c.BundleID], c.ClientID)
		}
	}
	mutate(m.byIDShadow, m.byPIDShadow, m.byBundleShadow)
	m.syncSwap()
	mutate(m.byIDShadow, m.byPIDShadow, m.byBundleShadow)

	if c.BundleID != "" {
		m.pastClientsMu.Lock()
		m.pastClients[c.BundleID] = c
		m.pastClientsMu.Unlock()
	}
	return nil
}

// Remove deregisters a client, returning its last known state.
func (m *ClientMap) Remove(clientID uint32) (Client, error) {
	m.shadowLock.Lock()
	defer m.shadowLock.Unlock()

	c, exists := m.byIDShadow[clientID]
	if !exists {
		return Client{}, newError(KindInvalidClient, "ClientMap.Remove", errors.New("no such client"))
	}

	mutate := func(byID map[uint32]Client, byPID map[int32][]uint32, byBundle map[string][]uint32) {
		delete(byID, clientID)
		byPID[c.ProcessID] = removeID(byPID[c.ProcessID], clientID)
		if len(byPID[c.ProcessID]) == 0 {
			delete(byPID, c.ProcessID)
		}
		if c.BundleID != "" {
			byBundle[c.BundleID] = removeID(byBundle[c.BundleID], clientID)
			if len(byBundle[c.BundleID]) == 0 {
				delete(byBundle, c.BundleID)
			}
		}
	}
	mutate(m.byIDShadow, m.byPIDShadow, m.byBundleShadow)
	m.syncSwap()
	mutate(m.byIDShadow, m.byPIDShadow, m.byBundleShadow)

	return c, nil
}

// SetDoingIO updates a client's DoingIO flag through the same
// mutate/swap/mutate protocol as Add/Remove.
func (m *ClientMap) SetDoingIO(clientID uint32, doingIO bool) error {
	m.shadowLock.Lock()
	defer m.shadowLock.Unlock()

	if _, exists := m.byIDShadow[clientID]; !exists {
		return newError(KindInvalidClient, "ClientMap.SetDoingIO", errors.New("no such client"))
	}

	mutate := func(byID map[uint32]Client) {
		c := byID[clientID]
		c.DoingIO = doingIO
		byID[clientID] = c
	}
	mutate(m.byIDShadow)
	m.syncSwap()
	mutate(m.byIDShadow)
	return nil
}

// GetRT is the realtime-safe lookup: it takes mapsLock only long enough to
// copy the client out of primary, so it never blocks behind a mutator that
// is still building up the shadow side.
func (m *ClientMap) GetRT(clientID uint32) (Client, bool) {
	m.mapsLock.Lock()
	defer m.mapsLock.Unlock()
	c, ok := m.byID[clientID]
	return c, ok
}

// GetNonRT looks a client up via the shadow map, which always reflects the
// most recently completed mutation even mid-swap.
func (m *ClientMap) GetNonRT(clientID uint32) (Client, bool) {
	m.shadowLock.Lock()
	defer m.shadowLock.Unlock()
	c, ok := m.byIDShadow[clientID]
	return c, ok
}

// ClientsForPID returns the current clients registered under pid.
func (m *ClientMap) ClientsForPID(pid int32) []Client {
	m.shadowLock.Lock()
	defer m.shadowLock.Unlock()
	ids := m.byPIDShadow[pid]
	out := make([]Client, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.byIDShadow[id])
	}
	return out
}

// PastClient returns the last known state of a client that once registered
// under bundleID, even if it has since been removed.
func (m *ClientMap) PastClient(bundleID string) (Client, bool) {
	m.pastClientsMu.Lock()
	defer m.pastClientsMu.Unlock()
	c, ok := m.pastClients[bundleID]
	return c, ok
}

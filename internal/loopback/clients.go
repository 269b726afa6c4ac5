package loopback

import (
	"log/slog"
	"math"
	"sync"
)

// Clients is a thin refcounted layer over ClientMap: it tracks how many
// registered clients are currently doing IO and calls onRunningChanged
// exactly on the 0->1 and 1->0 transitions, so Device only ever has to
// react to "the device as a whole started/stopped running", not to every
// individual client's start/stop.
//
// Grounded on RDC_Clients: StartIONonRT/StopIONonRT are meant to run on
// the non-realtime worker (hence the NonRT suffix carried over from the
// original naming), reached either synchronously from Device.StartIO/
// StopIO or asynchronously from the HAL's per-thread BeginIO/EndIO path.
type Clients struct {
	mu               sync.Mutex
	clientMap        *ClientMap
	startCount       uint64
	onRunningChanged func(running bool)
	logger           *slog.Logger
}

// NewClients constructs a Clients layer over cm. onRunningChanged may be
// nil if the caller doesn't need running-state notifications (e.g. in
// tests exercising ClientMap in isolation).
func NewClients(cm *ClientMap, onRunningChanged func(running bool), logger *slog.Logger) *Clients {
	if logger == nil {
		logger = slog.Default()
	}
	return &Clients{clientMap: cm, onRunningChanged: onRunningChanged, logger: logger}
}

// Add registers a new client.
func (c *Clients) Add(client Client) error { return c.clientMap.Add(client) }

// Remove deregisters a client.
func (c *Clients) Remove(clientID uint32) (Client, error) { return c.clientMap.Remove(clientID) }

// startIONonRT marks a client as doing IO and, on the 0->1 transition,
// reports that the device as a whole started running. It returns whether
// this call caused that transition.
func (c *Clients) startIONonRT(clientID uint32) (bool, error) {
	c.mu.Lock()
	client, ok := c.clientMap.GetNonRT(clientID)
	if !ok {
		c.mu.Unlock()
		return false, newError(KindInvalidClient, "Clients.StartIO", nil)
	}
	transitioned := false
	if !client.DoingIO {
		if c.startCount == math.MaxUint64 {
			c.mu.Unlock()
			return false, newError(KindIllegalOperation, "Clients.StartIO", nil)
		}
		if err := c.clientMap.SetDoingIO(clientID, true); err != nil {
			c.mu.Unlock()
			return false, err
		}
		c.startCount++
		transitioned = c.startCount == 1
	}
	c.mu.Unlock()

	if transitioned && c.onRunningChanged != nil {
		c.onRunningChanged(true)
	}
	return transitioned, nil
}

// stopIONonRT is startIONonRT's mirror image for the 1->0 transition.
func (c *Clients) stopIONonRT(clientID uint32) (bool, error) {
	c.mu.Lock()
	client, ok := c.clientMap.GetNonRT(clientID)
	if !ok {
		c.mu.Unlock()
		return false, newError(KindInvalidClient, "Clients.StopIO", nil)
	}
	transitioned := false
	if client.DoingIO {
		if err := c.clientMap.SetDoingIO(clientID, false); err != nil {
			c.mu.Unlock()
			return false, err
		}
		c.startCount--
		transitioned = c.startCount == 0
	}
	c.mu.Unlock()

	if transitioned && c.onRunningChanged != nil {
		c.onRunningChanged(false)
	}
	return transitioned, nil
}

// ClientsRunningIO reports whether any client is currently doing IO.
func (c *Clients) ClientsRunningIO() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startCount > 0
}

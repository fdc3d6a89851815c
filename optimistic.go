package wavechat

import (
	"sync"

	"github.com/google/uuid"
)

// NewClientID mints a provisional message identifier for an optimistic send.
func NewClientID() string {
	return "tmp-" + uuid.NewString()
}

// OptimisticRegistry is the short-lived translation table between
// provisional (client) identifiers and server-confirmed identifiers. An
// entry lives for at most one send round trip: it is registered when the
// send starts, bound once the server responds with the real id, and released
// when the hub echo is matched — or explicitly by the send path when the
// send fails. The registry never times entries out; failure handling belongs
// to the caller.
type OptimisticRegistry struct {
	mu       sync.Mutex
	byClient map[string]string // clientID -> serverID ("" until bound)
	byServer map[string]string // serverID -> clientID
}

// NewOptimisticRegistry creates an empty registry.
func NewOptimisticRegistry() *OptimisticRegistry {
	return &OptimisticRegistry{
		byClient: make(map[string]string),
		byServer: make(map[string]string),
	}
}

// Register records a pending send under its provisional id. Registering an
// id that is already live replaces the previous mapping, so at most one
// mapping per provisional id exists.
func (r *OptimisticRegistry) Register(clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if server, ok := r.byClient[clientID]; ok && server != "" {
		delete(r.byServer, server)
	}
	r.byClient[clientID] = ""
}

// Bind attaches the server-confirmed id to a registered provisional id.
// Reports whether the provisional id was still registered.
func (r *OptimisticRegistry) Bind(clientID, serverID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byClient[clientID]; !ok {
		return false
	}
	r.byClient[clientID] = serverID
	r.byServer[serverID] = clientID
	return true
}

// Resolve returns the provisional id mapped to a server id, if any.
func (r *OptimisticRegistry) Resolve(serverID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	clientID, ok := r.byServer[serverID]
	return clientID, ok
}

// Release deletes the mapping for a provisional id. Safe to call for ids
// that were never registered or were already released.
func (r *OptimisticRegistry) Release(clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if server, ok := r.byClient[clientID]; ok && server != "" {
		delete(r.byServer, server)
	}
	delete(r.byClient, clientID)
}

// Pending reports the number of live mappings.
func (r *OptimisticRegistry) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byClient)
}

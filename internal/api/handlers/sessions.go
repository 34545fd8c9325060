package handlers

import "sync"

// driverSessions remembers the newest stream per driver. A driver that
// reconnects before its old socket times out must not be taken offline when
// the old socket finally closes.
type driverSessions struct {
	mu      sync.Mutex
	current map[string]string
}

func newDriverSessions() *driverSessions {
	return &driverSessions{current: make(map[string]string)}
}

// open makes connID the driver's current stream
func (s *driverSessions) open(driverID, connID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current[driverID] = connID
}

// close ends connID and reports whether it was still the current stream
func (s *driverSessions) close(driverID, connID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current[driverID] != connID {
		return false
	}
	delete(s.current, driverID)
	return true
}

package handlers

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestDriverSessions_StaleCloseIgnored tests that only the newest stream ends a session
func TestDriverSessions_StaleCloseIgnored(t *testing.T) {
	s := newDriverSessions()

	s.open("D1", "old")
	s.open("D1", "new")
	s.open("D2", "other")

	assert.False(t, s.close("D1", "old"), "replaced stream")
	assert.True(t, s.close("D1", "new"))
	assert.False(t, s.close("D1", "new"), "already closed")
	assert.True(t, s.close("D2", "other"))
}

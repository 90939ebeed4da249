package resilience

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAuditBackoff(t *testing.T) {
	assert.Equal(t, time.Minute, AuditBackoff(0)) // clamped to first attempt
	assert.Equal(t, time.Minute, AuditBackoff(1))
	assert.Equal(t, 5*time.Minute, AuditBackoff(2))
	assert.Equal(t, 15*time.Minute, AuditBackoff(3))
	assert.Equal(t, time.Hour, AuditBackoff(4))
	assert.Equal(t, 6*time.Hour, AuditBackoff(5))
	// Beyond the table the last delay caps everything.
	assert.Equal(t, 6*time.Hour, AuditBackoff(12))
}

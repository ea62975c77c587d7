package audit_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"home-manager/internal/audit"
)

func TestMemoryLogFillsGeneratedFields(t *testing.T) {
	log := audit.NewMemoryLog()
	meta := json.RawMessage(`{"deviceCode":"A"}`)
	require.NoError(t, log.Log(context.Background(), audit.Entry{Action: "component.register", Metadata: meta}))

	entries := log.Entries()
	require.Len(t, entries, 1)
	assert.True(t, strings.HasPrefix(entries[0].ID, "audit-"))
	assert.False(t, entries[0].CreatedAt.IsZero())
	assert.Equal(t, audit.DigestJSON(meta), entries[0].PayloadDigest)
}

func TestDigestJSONEmpty(t *testing.T) {
	assert.Empty(t, audit.DigestJSON(nil))
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "10.0.0.9:5555"
	assert.Equal(t, "10.0.0.9", audit.ClientIP(req))

	req.Header.Set("X-Real-IP", " 10.0.0.2 ")
	assert.Equal(t, "10.0.0.2", audit.ClientIP(req))

	req.Header.Set("X-Forwarded-For", "192.168.1.1, 10.0.0.1")
	assert.Equal(t, "192.168.1.1", audit.ClientIP(req))
}

func TestNewRepositoryRejectsNilDB(t *testing.T) {
	_, err := audit.NewRepository(nil)
	require.Error(t, err)
}

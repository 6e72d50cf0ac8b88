//go:build integration

package integration

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/bissquit/nudge/internal/notifications"
	"github.com/bissquit/nudge/internal/testutil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// newUser returns a fresh user id so tests never share engine state.
func newUser() string {
	return "student-" + uuid.NewString()[:8]
}

// newTestClient creates an authenticated client for userID with OpenAPI
// validation enabled.
func newTestClient(t *testing.T, baseURL, userID string) *testutil.Client {
	t.Helper()
	token, err := testVerifier.IssueToken(userID, "", time.Hour)
	require.NoError(t, err)

	client := testutil.NewClientWithValidator(baseURL, testValidator).WithToken(token)
	client.SetT(t)
	return client
}

// submit posts a notification and returns the engine result.
func submit(t *testing.T, client *testutil.Client, body map[string]any) notifications.Result {
	t.Helper()
	resp, err := client.POST("/api/v1/me/notifications", body)
	require.NoError(t, err)
	require.Less(t, resp.StatusCode, http.StatusBadRequest)

	var result struct {
		Data notifications.Result `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &result)
	return result.Data
}

// kvKeys lists the persisted state keys of userID.
func kvKeys(t *testing.T, userID string) []string {
	t.Helper()
	rows, err := testDB.Query(context.Background(),
		"SELECT key FROM kv_store WHERE right(key, length($1)) = $1 ORDER BY key", userID)
	require.NoError(t, err)
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		require.NoError(t, rows.Scan(&k))
		keys = append(keys, k)
	}
	require.NoError(t, rows.Err())
	return keys
}

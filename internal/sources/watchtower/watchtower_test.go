package watchtower

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const checkMsg = "Watchtower 1.7.1\nUsing notifications: generic\nChecking all containers (except explicitly disabled with label)\nScheduling first run: 2024-03-10 12:00:00 +0000 UTC"

const updateMsg = "2 Scanned, 1 Updated, 0 Failed\n- /nginx (nginx:latest): 1a2b3c4d updated to 5e6f7a8b\n- garbage line"

func webhookBody(t *testing.T, msg string) []byte {
	t.Helper()
	b, err := json.Marshal(map[string]string{"title": "Watchtower updates", "message": msg})
	require.NoError(t, err)
	return b
}

func TestParseMessageVariants(t *testing.T) {
	t.Parallel()
	rep, err := ParseMessage(checkMsg)
	require.NoError(t, err)
	c, ok := rep.(Check)
	require.True(t, ok)
	assert.Equal(t, "Watchtower 1.7.1", c.Version)
	assert.Contains(t, c.Details, "Checking all containers")
	assert.NotContains(t, c.Details, "Using notifications")

	rep, err = ParseMessage(updateMsg)
	require.NoError(t, err)
	u, ok := rep.(Update)
	require.True(t, ok)
	assert.Equal(t, "2 Scanned, 1 Updated, 0 Failed", u.Summary)
	require.Len(t, u.Containers, 1)
	assert.Equal(t, Container{Name: "nginx", Image: "nginx:latest", FromID: "1a2b3c4d", ToID: "5e6f7a8b"}, u.Containers[0])

	_, err = ParseMessage("hello there")
	assert.Error(t, err)
	_, err = ParseMessage("  ")
	assert.Error(t, err)
}

func TestParseStableID(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	a, err := Parse(webhookBody(t, updateMsg), now)
	require.NoError(t, err)
	b, err := Parse(webhookBody(t, updateMsg), now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, a.ID, b.ID)
	assert.Empty(t, a.GroupKey)

	c, err := Parse(webhookBody(t, checkMsg), now)
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, c.ID)

	_, err = Parse([]byte("nope"), now)
	assert.Error(t, err)
}

func TestRender(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	e, err := Parse(webhookBody(t, updateMsg), now)
	require.NoError(t, err)
	rec, err := Render(e)
	require.NoError(t, err)
	assert.Equal(t, "Watchtower: Update", rec.Author)
	assert.Contains(t, rec.Body, "1: nginx nginx:latest")
	assert.Contains(t, rec.Body, "From: 1a2b3c4d -> 5e6f7a8b")

	e, err = Parse(webhookBody(t, checkMsg), now)
	require.NoError(t, err)
	rec, err = Render(e)
	require.NoError(t, err)
	assert.Equal(t, "Watchtower 1.7.1", rec.Title)
}

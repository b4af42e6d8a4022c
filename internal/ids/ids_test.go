package ids

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSortsByIssueOrder(t *testing.T) {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	a := New(now)
	b := New(now)
	c := New(now.Add(time.Millisecond))
	assert.Less(t, a, b)
	assert.Less(t, b, c)

	ts, err := Time(c)
	require.NoError(t, err)
	assert.True(t, ts.Equal(now.Add(time.Millisecond)))
}

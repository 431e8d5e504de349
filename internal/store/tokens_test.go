package store

import (
	"testing"
	"time"

	apperrors "github.com/davmgs/meditrack/internal/errors"
	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withBadger(t *testing.T, st *Store) {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	require.NoError(t, err)
	st.badger = db
	t.Cleanup(func() { db.Close() })
}

func TestLinkTokenLifecycle(t *testing.T) {
	st := newTestStore(t)
	withBadger(t, st)

	token, err := st.CreateLinkToken("default")
	require.NoError(t, err)
	assert.Len(t, token, 32)

	userID, err := st.ConsumeLinkToken(token)
	require.NoError(t, err)
	assert.Equal(t, "default", userID)

	// One-shot: a second consume fails.
	_, err = st.ConsumeLinkToken(token)
	require.Error(t, err)
	assert.Equal(t, "LINK_001", apperrors.GetCode(err))
}

func TestConsumeUnknownToken(t *testing.T) {
	st := newTestStore(t)
	withBadger(t, st)

	_, err := st.ConsumeLinkToken("deadbeef")
	require.Error(t, err)
	assert.Equal(t, "LINK_001", apperrors.GetCode(err))
}

func TestLinkTokenRequiresBadger(t *testing.T) {
	st := newTestStore(t)

	_, err := st.CreateLinkToken("default")
	assert.Error(t, err)
	_, err = st.ConsumeLinkToken("whatever")
	assert.Error(t, err)
}

func TestFirstSeen(t *testing.T) {
	st := newTestStore(t)
	withBadger(t, st)

	first, err := st.FirstSeen("cb:1", time.Minute)
	require.NoError(t, err)
	assert.True(t, first)

	first, err = st.FirstSeen("cb:1", time.Minute)
	require.NoError(t, err)
	assert.False(t, first)

	first, err = st.FirstSeen("cb:2", time.Minute)
	require.NoError(t, err)
	assert.True(t, first)
}

func TestFirstSeenWithoutBadger(t *testing.T) {
	st := newTestStore(t)

	first, err := st.FirstSeen("cb:1", time.Minute)
	require.NoError(t, err)
	assert.True(t, first)
}

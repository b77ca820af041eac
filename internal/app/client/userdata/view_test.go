package userdata

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studysync/internal/app/client/queue"
	"studysync/internal/app/client/retry"
	"studysync/internal/app/client/store"
	"studysync/internal/domain/action"
	"studysync/internal/domain/learning"
	"studysync/internal/utils/logger"
)

func newTestView(t *testing.T) (*View, *queue.Manager) {
	t.Helper()
	st := store.NewMemoryStore()
	q := queue.NewManager(st, retry.DefaultPolicy(), logger.Discard())
	return NewView(st, q, logger.Discard()), q
}

func TestView_UpdateProfileCarriesBase(t *testing.T) {
	ctx := context.Background()
	v, q := newTestView(t)

	_, err := v.ApplyServerProfile(ctx, "u1", learning.Profile{Fields: map[string]string{"name": "Ann", "city": "Riga"}, Version: 2}, false)
	require.NoError(t, err)

	p, err := v.UpdateProfile(ctx, "u1", map[string]string{"name": "Anna"})
	require.NoError(t, err)
	assert.Equal(t, "Anna", p.Fields["name"])
	assert.Equal(t, map[string]string{"name": "Anna"}, p.Pending())

	actions, err := q.List(ctx, queue.Filter{Kind: action.KindProfileUpdate})
	require.NoError(t, err)
	require.Len(t, actions, 1)
	payload := actions[0].Payload.(*action.ProfileUpdatePayload)
	assert.Equal(t, map[string]string{"name": "Ann"}, payload.Base)
	assert.Equal(t, map[string]string{"name": "Anna"}, payload.Fields)
}

func TestView_ApplyServerProfileKeepsPending(t *testing.T) {
	ctx := context.Background()
	v, _ := newTestView(t)

	_, err := v.UpdateProfile(ctx, "u1", map[string]string{"name": "Anna"})
	require.NoError(t, err)

	p, err := v.ApplyServerProfile(ctx, "u1", learning.Profile{Fields: map[string]string{"city": "Oslo"}, Version: 5}, true)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"name": "Anna", "city": "Oslo"}, p.Fields)
	assert.Equal(t, int64(5), p.Version)

	p, err = v.ApplyServerProfile(ctx, "u1", learning.Profile{Fields: map[string]string{"city": "Oslo"}, Version: 6}, false)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"city": "Oslo"}, p.Fields)
	assert.Empty(t, p.Pending())
}

func TestView_PutData(t *testing.T) {
	ctx := context.Background()
	v, q := newTestView(t)

	_, err := v.ApplyServerData(ctx, "u1", learning.UserData{Key: "theme", Value: json.RawMessage(`"light"`), Version: 4}, false)
	require.NoError(t, err)

	e, err := v.PutData(ctx, "u1", "theme", json.RawMessage(`"dark"`))
	require.NoError(t, err)
	assert.False(t, e.Synced)
	assert.Equal(t, int64(4), e.Version)

	actions, err := q.List(ctx, queue.Filter{Kind: action.KindGenericUserData})
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, int64(4), actions[0].Payload.(*action.GenericUserDataPayload).BaseVersion)

	list, err := v.ListData(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.JSONEq(t, `"dark"`, string(list[0].Value))

	_, err = v.PutData(ctx, "u1", "bad", json.RawMessage(`{`))
	assert.Error(t, err)

	_, err = v.GetData(ctx, "u1", "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestView_ApplyServerDataKeepsNewerLocalValue(t *testing.T) {
	ctx := context.Background()
	v, _ := newTestView(t)

	_, err := v.PutData(ctx, "u1", "theme", json.RawMessage(`"dark"`))
	require.NoError(t, err)

	e, err := v.ApplyServerData(ctx, "u1", learning.UserData{Key: "theme", Value: json.RawMessage(`"light"`), Version: 2}, true)
	require.NoError(t, err)
	assert.JSONEq(t, `"dark"`, string(e.Value))
	assert.Equal(t, int64(2), e.Version)
	assert.False(t, e.Synced)

	e, err = v.ApplyServerData(ctx, "u1", learning.UserData{Key: "theme", Value: json.RawMessage(`"light"`), Version: 3}, false)
	require.NoError(t, err)
	assert.JSONEq(t, `"light"`, string(e.Value))
	assert.True(t, e.Synced)
}

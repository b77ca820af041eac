package conflict

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	clientprogress "studysync/internal/app/client/progress"
	"studysync/internal/app/client/queue"
	"studysync/internal/app/client/retry"
	"studysync/internal/app/client/store"
	"studysync/internal/app/client/userdata"
	"studysync/internal/domain/action"
	"studysync/internal/domain/conflict"
	"studysync/internal/domain/learning"
	"studysync/internal/utils/logger"
)

type fixture struct {
	store    store.Store
	queue    *queue.Manager
	agg      *clientprogress.Aggregator
	view     *userdata.View
	resolver *Resolver
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := store.NewMemoryStore()
	q := queue.NewManager(st, retry.DefaultPolicy(), logger.Discard())
	agg := clientprogress.NewAggregator(st, q, logger.Discard())
	view := userdata.NewView(st, q, logger.Discard())
	return &fixture{
		store:    st,
		queue:    q,
		agg:      agg,
		view:     view,
		resolver: NewResolver(st, q, agg, view, logger.Discard()),
	}
}

func serverJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func profileConflict(t *testing.T) *conflict.Record {
	return &conflict.Record{
		ActionID: "a1",
		Kind:     action.KindProfileUpdate,
		OwnerID:  "u1",
		LocalPayload: &action.ProfileUpdatePayload{
			Fields: map[string]string{"name": "Anna", "city": "Riga"},
			Base:   map[string]string{"name": "Ann", "city": "Oslo"},
		},
		ServerPayload: serverJSON(t, learning.Profile{
			Fields:  map[string]string{"name": "Annette", "city": "Oslo", "lang": "lv"},
			Version: 7,
		}),
		DetectedAt: time.Now(),
		Reason:     "name changed",
	}
}

func TestResolver_RecordPersistsAcrossLoad(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.resolver.Record(ctx, profileConflict(t)))

	reloaded := NewResolver(f.store, f.queue, f.agg, f.view, logger.Discard())
	require.NoError(t, reloaded.Load(ctx))

	list := reloaded.List()
	require.Len(t, list, 1)
	assert.Equal(t, "a1", list[0].ActionID)
	p, ok := list[0].LocalPayload.(*action.ProfileUpdatePayload)
	require.True(t, ok)
	assert.Equal(t, "Anna", p.Fields["name"])
}

func TestResolver_ClientWinsRebasesProfile(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.resolver.Record(ctx, profileConflict(t)))

	require.NoError(t, f.resolver.Resolve(ctx, "a1", conflict.PolicyClientWins))

	actions, err := f.queue.List(ctx, queue.Filter{Kind: action.KindProfileUpdate})
	require.NoError(t, err)
	require.Len(t, actions, 1)
	p := actions[0].Payload.(*action.ProfileUpdatePayload)
	assert.Equal(t, map[string]string{"name": "Annette", "city": "Oslo"}, p.Base)
	assert.Equal(t, map[string]string{"name": "Anna", "city": "Riga"}, p.Fields)

	_, err = f.resolver.Get("a1")
	assert.ErrorIs(t, err, conflict.ErrNotFound)
	assert.Empty(t, f.resolver.List())
}

func TestResolver_ServerWinsRefreshesProfile(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.resolver.Record(ctx, profileConflict(t)))

	require.NoError(t, f.resolver.Resolve(ctx, "a1", conflict.PolicyServerWins))

	p, err := f.view.Profile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Annette", p.Fields["name"])
	assert.Empty(t, p.Pending())

	stats, err := f.queue.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Total())
}

func TestResolver_MergeProfileKeepsUnchangedClientFields(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.resolver.Record(ctx, profileConflict(t)))

	require.NoError(t, f.resolver.Resolve(ctx, "a1", conflict.PolicyMerge))

	p, err := f.view.Profile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"name": "Annette", "city": "Riga", "lang": "lv"}, p.Fields)

	actions, err := f.queue.List(ctx, queue.Filter{Kind: action.KindProfileUpdate})
	require.NoError(t, err)
	require.Len(t, actions, 1)
	payload := actions[0].Payload.(*action.ProfileUpdatePayload)
	assert.Equal(t, map[string]string{"city": "Riga"}, payload.Fields)
	assert.Equal(t, map[string]string{"city": "Oslo"}, payload.Base)
}

func TestResolver_MergeCourseProgress(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	rec := &conflict.Record{
		ActionID: "a2",
		Kind:     action.KindCourseProgress,
		OwnerID:  "u1",
		CourseID: "c1",
		LocalPayload: &action.CourseProgressPayload{
			CourseID:              "c1",
			CompletedLessonIDs:    []string{"l1"},
			TotalTimeSpentSeconds: 40,
		},
		ServerPayload: serverJSON(t, learning.CourseProgress{
			CourseID:              "c1",
			CompletedLessonIDs:    []string{"l2"},
			TotalTimeSpentSeconds: 100,
		}),
	}
	require.NoError(t, f.resolver.Record(ctx, rec))
	require.NoError(t, f.resolver.Resolve(ctx, "a2", conflict.PolicyMerge))

	snap, err := f.agg.GetProgress(ctx, "u1", "c1")
	require.NoError(t, err)
	assert.Equal(t, []string{"l1", "l2"}, snap.CompletedLessonIDs)
	assert.Equal(t, 100, snap.TotalTimeSpentSeconds)

	actions, err := f.queue.List(ctx, queue.Filter{Kind: action.KindCourseProgress})
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, []string{"l1", "l2"}, actions[0].Payload.(*action.CourseProgressPayload).CompletedLessonIDs)
}

func TestResolver_MergeUnsupported(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	rec := &conflict.Record{
		ActionID:     "a3",
		Kind:         action.KindGenericUserData,
		OwnerID:      "u1",
		LocalPayload: &action.GenericUserDataPayload{Key: "theme", Value: json.RawMessage(`"dark"`)},
	}
	require.NoError(t, f.resolver.Record(ctx, rec))

	err := f.resolver.Resolve(ctx, "a3", conflict.PolicyMerge)
	assert.ErrorIs(t, err, conflict.ErrMergeUnsupported)

	_, err = f.resolver.Get("a3")
	assert.NoError(t, err, "unresolved conflict stays")
}

func TestResolver_ClientWinsUserDataUsesServerVersion(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	rec := &conflict.Record{
		ActionID:      "a4",
		Kind:          action.KindGenericUserData,
		OwnerID:       "u1",
		LocalPayload:  &action.GenericUserDataPayload{Key: "theme", Value: json.RawMessage(`"dark"`), BaseVersion: 1},
		ServerPayload: serverJSON(t, learning.UserData{Key: "theme", Value: json.RawMessage(`"light"`), Version: 4}),
	}
	require.NoError(t, f.resolver.Record(ctx, rec))
	require.NoError(t, f.resolver.Resolve(ctx, "a4", conflict.PolicyClientWins))

	actions, err := f.queue.List(ctx, queue.Filter{Kind: action.KindGenericUserData})
	require.NoError(t, err)
	require.Len(t, actions, 1)
	p := actions[0].Payload.(*action.GenericUserDataPayload)
	assert.Equal(t, int64(4), p.BaseVersion)
	assert.JSONEq(t, `"dark"`, string(p.Value))
}

func TestResolver_UnknownPolicyAndMissing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	assert.ErrorIs(t, f.resolver.Resolve(ctx, "nope", conflict.PolicyMerge), conflict.ErrNotFound)

	require.NoError(t, f.resolver.Record(ctx, profileConflict(t)))
	assert.ErrorIs(t, f.resolver.Resolve(ctx, "a1", conflict.Policy("coin_flip")), conflict.ErrUnknownPolicy)
}

package conflict

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studysync/internal/domain/action"
)

func TestRecord_JSON(t *testing.T) {
	rec := Record{
		ActionID:      "a1",
		Kind:          action.KindProfileUpdate,
		OwnerID:       "u1",
		LocalPayload:  &action.ProfileUpdatePayload{Fields: map[string]string{"name": "Ann"}},
		ServerPayload: json.RawMessage(`{"fields":{"name":"Bob"}}`),
		DetectedAt:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Reason:        "name changed on server",
	}

	data, err := json.Marshal(rec)
	require.NoError(t, err)

	var got Record
	require.NoError(t, json.Unmarshal(data, &got))

	p, ok := got.LocalPayload.(*action.ProfileUpdatePayload)
	require.True(t, ok)
	assert.Equal(t, "Ann", p.Fields["name"])
	assert.JSONEq(t, string(rec.ServerPayload), string(got.ServerPayload))
	assert.Equal(t, rec.Reason, got.Reason)
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("merge")
	require.NoError(t, err)
	assert.Equal(t, PolicyMerge, p)

	_, err = ParsePolicy("latest")
	assert.ErrorIs(t, err, ErrUnknownPolicy)
}

func TestMergeSupported(t *testing.T) {
	assert.True(t, MergeSupported(action.KindCourseProgress))
	assert.True(t, MergeSupported(action.KindProfileUpdate))
	assert.False(t, MergeSupported(action.KindQuizAttempt))
	assert.False(t, MergeSupported(action.KindGenericUserData))
}

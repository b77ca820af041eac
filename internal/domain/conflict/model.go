package conflict

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"studysync/internal/domain/action"
)

var (
	ErrNotFound         = errors.New("conflict not found")
	ErrMergeUnsupported = errors.New("merge is not supported for this kind")
	ErrUnknownPolicy    = errors.New("unknown resolution policy")
)

// Policy способ разрешения конфликта
type Policy string

const (
	PolicyClientWins Policy = "client_wins"
	PolicyServerWins Policy = "server_wins"
	PolicyMerge      Policy = "merge"
)

// ParsePolicy разбирает название политики
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(s); p {
	case PolicyClientWins, PolicyServerWins, PolicyMerge:
		return p, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPolicy, s)
}

// Record обнаруженный конфликт; хранится до явного разрешения
type Record struct {
	ActionID      string          `json:"action_id"`
	Kind          action.Kind     `json:"kind"`
	OwnerID       string          `json:"owner_id"`
	CourseID      string          `json:"course_id,omitempty"`
	LocalPayload  action.Payload  `json:"-"`
	ServerPayload json.RawMessage `json:"server_payload,omitempty"`
	DetectedAt    time.Time       `json:"detected_at"`
	Reason        string          `json:"reason"`
}

type recordAlias Record

type recordEnvelope struct {
	recordAlias
	LocalPayload json.RawMessage `json:"local_payload"`
}

func (r Record) MarshalJSON() ([]byte, error) {
	if r.LocalPayload == nil {
		return nil, fmt.Errorf("%w: conflict %s", action.ErrEmptyPayload, r.ActionID)
	}
	raw, err := json.Marshal(r.LocalPayload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(recordEnvelope{recordAlias: recordAlias(r), LocalPayload: raw})
}

func (r *Record) UnmarshalJSON(data []byte) error {
	var env recordEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}

	payload, err := action.DecodePayload(env.Kind, env.LocalPayload)
	if err != nil {
		return err
	}

	*r = Record(env.recordAlias)
	r.LocalPayload = payload
	return nil
}

// MergeSupported вид поддерживает разрешение слиянием
func MergeSupported(kind action.Kind) bool {
	switch kind {
	case action.KindCourseProgress, action.KindLessonCompletion, action.KindProfileUpdate:
		return true
	}
	return false
}

// Package userdata локальное представление профиля и пользовательских данных.
package userdata

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/exp/slog"

	"studysync/internal/app/client/store"
	"studysync/internal/domain/action"
	"studysync/internal/domain/learning"
)

var ErrNotFound = errors.New("user data not found")

type Enqueuer interface {
	Enqueue(ctx context.Context, a *action.Action) (string, error)
}

// Profile локальный профиль. Server - последние значения, полученные с сервера,
// Fields - значения с учетом локальных изменений.
type Profile struct {
	Fields   map[string]string `json:"fields"`
	Server   map[string]string `json:"server"`
	Version  int64             `json:"version"`
	SyncedAt time.Time         `json:"synced_at,omitempty"`
}

// Pending поля, измененные локально и еще не подтвержденные сервером
func (p *Profile) Pending() map[string]string {
	out := make(map[string]string)
	for k, v := range p.Fields {
		if p.Server[k] != v {
			out[k] = v
		}
	}
	return out
}

// Entry значение пользовательских данных
type Entry struct {
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	Version   int64           `json:"version"`
	UpdatedAt time.Time       `json:"updated_at"`
	Synced    bool            `json:"synced"`
}

type View struct {
	store    store.Store
	settings *store.Settings
	queue    Enqueuer
	log      *slog.Logger
	now      func() time.Time

	mu sync.Mutex
}

func NewView(st store.Store, queue Enqueuer, log *slog.Logger) *View {
	return &View{
		store:    st,
		settings: store.NewSettings(st),
		queue:    queue,
		log:      log.With(slog.String("component", "userdata")),
		now:      time.Now,
	}
}

func profileKey(ownerID string) string {
	return store.SettingProfile + ":" + ownerID
}

// Profile возвращает локальный профиль
func (v *View) Profile(ctx context.Context, ownerID string) (*Profile, error) {
	p := &Profile{}
	if _, err := v.settings.GetJSON(ctx, profileKey(ownerID), p); err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}
	if p.Fields == nil {
		p.Fields = map[string]string{}
	}
	if p.Server == nil {
		p.Server = map[string]string{}
	}
	return p, nil
}

// UpdateProfile меняет поля локально и ставит изменение в очередь вместе с
// последними известными серверными значениями этих полей.
func (v *View) UpdateProfile(ctx context.Context, ownerID string, fields map[string]string) (*Profile, error) {
	if len(fields) == 0 {
		return nil, fmt.Errorf("update profile: no fields")
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	p, err := v.Profile(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	base := make(map[string]string, len(fields))
	for k, val := range fields {
		p.Fields[k] = val
		base[k] = p.Server[k]
	}

	if err := v.settings.SetJSON(ctx, profileKey(ownerID), p); err != nil {
		return nil, fmt.Errorf("save profile: %w", err)
	}

	payload := &action.ProfileUpdatePayload{Fields: copyMap(fields), Base: base}
	if _, err := v.queue.Enqueue(ctx, action.New(ownerID, "", payload)); err != nil {
		return nil, fmt.Errorf("enqueue profile update: %w", err)
	}
	return p, nil
}

// ApplyServerProfile принимает профиль с сервера; неподтвержденные локальные
// изменения сохраняются поверх него.
func (v *View) ApplyServerProfile(ctx context.Context, ownerID string, sp learning.Profile, keepPending bool) (*Profile, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	p, err := v.Profile(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	pending := p.Pending()

	next := &Profile{
		Fields:   copyMap(sp.Fields),
		Server:   copyMap(sp.Fields),
		Version:  sp.Version,
		SyncedAt: v.now(),
	}
	if keepPending {
		for k, val := range pending {
			next.Fields[k] = val
		}
	}

	if err := v.settings.SetJSON(ctx, profileKey(ownerID), next); err != nil {
		return nil, fmt.Errorf("save profile: %w", err)
	}
	return next, nil
}

func dataKey(ownerID, key string) string {
	return ownerID + "/" + key
}

// PutData сохраняет значение локально и ставит его в очередь с известной версией
func (v *View) PutData(ctx context.Context, ownerID, key string, value json.RawMessage) (*Entry, error) {
	if key == "" {
		return nil, fmt.Errorf("put data: empty key")
	}
	if !json.Valid(value) {
		return nil, fmt.Errorf("put data %s: value is not valid JSON", key)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	e, err := v.getData(ctx, ownerID, key)
	if errors.Is(err, ErrNotFound) {
		e = &Entry{Key: key}
	} else if err != nil {
		return nil, err
	}

	e.Value = value
	e.UpdatedAt = v.now()
	e.Synced = false
	if err := v.saveData(ctx, ownerID, e); err != nil {
		return nil, err
	}

	act := action.New(ownerID, "", &action.GenericUserDataPayload{Key: key, Value: value, BaseVersion: e.Version})
	act.CoalesceKey = string(action.KindGenericUserData) + ":" + dataKey(ownerID, key)
	if _, err := v.queue.Enqueue(ctx, act); err != nil {
		return nil, fmt.Errorf("enqueue user data: %w", err)
	}
	return e, nil
}

// ApplyServerData принимает значение и версию с сервера. При keepLocal
// неотправленное локальное значение сохраняется, обновляется только версия.
func (v *View) ApplyServerData(ctx context.Context, ownerID string, d learning.UserData, keepLocal bool) (*Entry, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if keepLocal {
		current, err := v.getData(ctx, ownerID, d.Key)
		if err == nil && !current.Synced && !bytes.Equal(current.Value, d.Value) {
			current.Version = d.Version
			if err := v.saveData(ctx, ownerID, current); err != nil {
				return nil, err
			}
			return current, nil
		}
	}

	e := &Entry{
		Key:       d.Key,
		Value:     d.Value,
		Version:   d.Version,
		UpdatedAt: d.UpdatedAt,
		Synced:    true,
	}
	if err := v.saveData(ctx, ownerID, e); err != nil {
		return nil, err
	}
	return e, nil
}

func (v *View) GetData(ctx context.Context, ownerID, key string) (*Entry, error) {
	return v.getData(ctx, ownerID, key)
}

func (v *View) ListData(ctx context.Context, ownerID string) ([]*Entry, error) {
	items, err := v.store.ListByIndex(ctx, store.CollectionUserData, store.IndexOwnerID, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list user data: %w", err)
	}

	out := make([]*Entry, 0, len(items))
	for _, it := range items {
		var e Entry
		if err := json.Unmarshal(it.Value, &e); err != nil {
			return nil, fmt.Errorf("decode user data %s: %w", it.Key, err)
		}
		out = append(out, &e)
	}
	return out, nil
}

func (v *View) getData(ctx context.Context, ownerID, key string) (*Entry, error) {
	data, err := v.store.Get(ctx, store.CollectionUserData, dataKey(ownerID, key))
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("get user data %s: %w", key, err)
	}

	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("decode user data %s: %w", key, err)
	}
	return &e, nil
}

func (v *View) saveData(ctx context.Context, ownerID string, e *Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode user data %s: %w", e.Key, err)
	}
	err = v.store.Put(ctx, store.CollectionUserData, dataKey(ownerID, e.Key), data, store.Indexes{store.IndexOwnerID: ownerID})
	if err != nil {
		return fmt.Errorf("save user data %s: %w", e.Key, err)
	}
	return nil
}

func copyMap(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

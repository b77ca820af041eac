package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Ключи настроек
const (
	SettingLastSuccessfulSync = "lastSuccessfulSync"
	SettingProfile            = "profile"
)

// Settings типизированный доступ к коллекции settings
type Settings struct {
	store Store
}

func NewSettings(s Store) *Settings {
	return &Settings{store: s}
}

// GetJSON читает значение в v; ok=false, если ключа нет
func (s *Settings) GetJSON(ctx context.Context, key string, v any) (bool, error) {
	data, err := s.store.Get(ctx, CollectionSettings, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("decode setting %s: %w", key, err)
	}
	return true, nil
}

func (s *Settings) SetJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode setting %s: %w", key, err)
	}
	return s.store.Put(ctx, CollectionSettings, key, data, nil)
}

// GetTime возвращает нулевое время, если значение не задано
func (s *Settings) GetTime(ctx context.Context, key string) (time.Time, error) {
	var t time.Time
	if _, err := s.GetJSON(ctx, key, &t); err != nil {
		return time.Time{}, err
	}
	return t, nil
}

func (s *Settings) SetTime(ctx context.Context, key string, t time.Time) error {
	return s.SetJSON(ctx, key, t.UTC())
}

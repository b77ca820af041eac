// Package store хранит локальные данные клиента: очередь действий, прогресс,
// попытки тестов, конфликты и настройки.
package store

import (
	"context"
	"errors"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrStorage ошибка хранилища; операцию можно повторить
	ErrStorage = errors.New("storage error")
)

// Коллекции
const (
	CollectionPendingActions    = "pendingActions"
	CollectionProgressSnapshots = "progressSnapshots"
	CollectionQuizAttempts      = "quizAttempts"
	CollectionConflicts         = "conflicts"
	CollectionSettings          = "settings"
	CollectionUserData          = "userData"
)

// Индексы
const (
	IndexOwnerID     = "ownerId"
	IndexStatus      = "status"
	IndexPartition   = "partition"
	IndexOwnerCourse = "ownerCourse"
	IndexQuizID      = "quizId"
	IndexOwnerQuiz   = "ownerQuiz"
	IndexActionID    = "actionId"
)

// Indexes значения вторичных индексов записи
type Indexes map[string]string

// Item запись коллекции
type Item struct {
	Key   string
	Value []byte
}

// Store долговременное хранилище ключ-значение с вторичными индексами.
// Каждая операция атомарна.
type Store interface {
	Put(ctx context.Context, collection, key string, value []byte, indexes Indexes) error
	// Get возвращает ErrNotFound, если ключа нет
	Get(ctx context.Context, collection, key string) ([]byte, error)
	// Delete отсутствующего ключа не считается ошибкой
	Delete(ctx context.Context, collection, key string) error
	// List и ListByIndex возвращают записи в порядке первой вставки
	List(ctx context.Context, collection string) ([]Item, error)
	ListByIndex(ctx context.Context, collection, index, value string) ([]Item, error)
	Close() error
}

// Package retry задает политику повторов для действий очереди.
package retry

import (
	"time"

	"studysync/internal/domain/action"
)

// DefaultDelays задержки перед повтором по номеру попытки
var DefaultDelays = []time.Duration{
	1 * time.Second,
	5 * time.Second,
	15 * time.Second,
	60 * time.Second,
	300 * time.Second,
}

// Policy политика повторов
type Policy struct {
	// Delays задержка после n-й неудачной попытки: Delays[n-1], дальше последняя
	Delays []time.Duration
	// MaxAttempts предел попыток по виду действия
	MaxAttempts map[action.Kind]int
	// DefaultMaxAttempts для видов, не указанных в MaxAttempts
	DefaultMaxAttempts int
}

// DefaultPolicy политика по умолчанию: важные для пользователя действия
// (попытки тестов, профиль) получают больше попыток.
func DefaultPolicy() Policy {
	return Policy{
		Delays: append([]time.Duration(nil), DefaultDelays...),
		MaxAttempts: map[action.Kind]int{
			action.KindQuizAttempt:      5,
			action.KindProfileUpdate:    5,
			action.KindLessonCompletion: 3,
			action.KindCourseProgress:   3,
			action.KindGenericUserData:  3,
		},
		DefaultMaxAttempts: 3,
	}
}

// Backoff задержка после attemptCount неудачных попыток
func (p Policy) Backoff(attemptCount int) time.Duration {
	delays := p.Delays
	if len(delays) == 0 {
		delays = DefaultDelays
	}
	if attemptCount < 1 {
		attemptCount = 1
	}
	i := attemptCount - 1
	if i >= len(delays) {
		i = len(delays) - 1
	}
	return delays[i]
}

// MaxBackoff наибольшая задержка
func (p Policy) MaxBackoff() time.Duration {
	delays := p.Delays
	if len(delays) == 0 {
		delays = DefaultDelays
	}
	var m time.Duration
	for _, d := range delays {
		m = max(m, d)
	}
	return m
}

// MaxAttemptsFor предел попыток для вида действия
func (p Policy) MaxAttemptsFor(kind action.Kind) int {
	if n, ok := p.MaxAttempts[kind]; ok && n > 0 {
		return n
	}
	if p.DefaultMaxAttempts > 0 {
		return p.DefaultMaxAttempts
	}
	return 3
}

package progress

import (
	"encoding/json"
	"math"
	"sort"
	"time"

	"studysync/internal/domain/learning"
)

// Position позиция внутри урока
type Position struct {
	Seconds int     `json:"seconds,omitempty"`
	Percent float64 `json:"percent,omitempty"`
}

// Interaction действие пользователя внутри урока
type Interaction struct {
	Type string    `json:"type"`
	Data string    `json:"data,omitempty"`
	At   time.Time `json:"at"`
}

type Note struct {
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

type Bookmark struct {
	Label    string    `json:"label,omitempty"`
	Position Position  `json:"position"`
	At       time.Time `json:"at"`
}

type LessonProgress struct {
	StartedAt        time.Time     `json:"started_at"`
	CompletedAt      *time.Time    `json:"completed_at,omitempty"`
	TimeSpentSeconds int           `json:"time_spent_seconds"`
	LastPosition     *Position     `json:"last_position,omitempty"`
	Interactions     []Interaction `json:"interactions,omitempty"`
	Notes            []Note        `json:"notes,omitempty"`
	Bookmarks        []Bookmark    `json:"bookmarks,omitempty"`
}

type SectionProgress struct {
	StartedAt        time.Time  `json:"started_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	CompletedLessons []string   `json:"completed_lessons,omitempty"`
	LessonCount      int        `json:"lesson_count,omitempty"`
	TimeSpentSeconds int        `json:"time_spent_seconds"`
}

// QuizResult результат одной попытки
type QuizResult struct {
	AttemptID   string    `json:"attempt_id"`
	Score       float64   `json:"score"`
	Percentage  float64   `json:"percentage"`
	Passed      bool      `json:"passed"`
	CompletedAt time.Time `json:"completed_at"`
	// Confirmed - оценка подтверждена сервером
	Confirmed bool `json:"confirmed,omitempty"`
}

type QuizScore struct {
	BestScore      float64      `json:"best_score"`
	BestPercentage float64      `json:"best_percentage"`
	AttemptCount   int          `json:"attempt_count"`
	Passed         bool         `json:"passed"`
	History        []QuizResult `json:"history,omitempty"`
}

// Snapshot прогресс пользователя по курсу
type Snapshot struct {
	OwnerID                string                      `json:"owner_id"`
	CourseID               string                      `json:"course_id"`
	CompletedLessonIDs     []string                    `json:"completed_lesson_ids"`
	CompletedSectionIDs    []string                    `json:"completed_section_ids"`
	LessonProgress         map[string]*LessonProgress  `json:"lesson_progress"`
	SectionProgress        map[string]*SectionProgress `json:"section_progress"`
	QuizScores             map[string]*QuizScore       `json:"quiz_scores"`
	CurrentLessonID        string                      `json:"current_lesson_id,omitempty"`
	CurrentSectionID       string                      `json:"current_section_id,omitempty"`
	LessonCount            int                         `json:"lesson_count"`
	OverallProgressPercent float64                     `json:"overall_progress_percent"`
	TotalTimeSpentSeconds  int                         `json:"total_time_spent_seconds"`
	LastModifiedAt         time.Time                   `json:"last_modified_at"`
	LastSyncedAt           time.Time                   `json:"last_synced_at,omitempty"`
	Dirty                  bool                        `json:"dirty"`
}

func NewSnapshot(ownerID, courseID string) *Snapshot {
	return &Snapshot{
		OwnerID:             ownerID,
		CourseID:            courseID,
		CompletedLessonIDs:  []string{},
		CompletedSectionIDs: []string{},
		LessonProgress:      map[string]*LessonProgress{},
		SectionProgress:     map[string]*SectionProgress{},
		QuizScores:          map[string]*QuizScore{},
	}
}

// Clone глубокая копия снимка
func (s *Snapshot) Clone() *Snapshot {
	data, err := json.Marshal(s)
	if err != nil {
		panic(err)
	}
	out := NewSnapshot("", "")
	if err := json.Unmarshal(data, out); err != nil {
		panic(err)
	}
	out.normalize()
	return out
}

// normalize восстанавливает пустые коллекции после декодирования
func (s *Snapshot) normalize() {
	if s.CompletedLessonIDs == nil {
		s.CompletedLessonIDs = []string{}
	}
	if s.CompletedSectionIDs == nil {
		s.CompletedSectionIDs = []string{}
	}
	if s.LessonProgress == nil {
		s.LessonProgress = map[string]*LessonProgress{}
	}
	if s.SectionProgress == nil {
		s.SectionProgress = map[string]*SectionProgress{}
	}
	if s.QuizScores == nil {
		s.QuizScores = map[string]*QuizScore{}
	}
}

// Decode читает снимок из JSON
func Decode(data []byte) (*Snapshot, error) {
	s := NewSnapshot("", "")
	if err := json.Unmarshal(data, s); err != nil {
		return nil, err
	}
	s.normalize()
	return s, nil
}

// IsLessonCompleted урок отмечен пройденным
func (s *Snapshot) IsLessonCompleted(lessonID string) bool {
	return contains(s.CompletedLessonIDs, lessonID)
}

// recompute единственное место, где вычисляется процент прохождения
func (s *Snapshot) recompute() {
	s.OverallProgressPercent = Percent(len(s.CompletedLessonIDs), s.LessonCount)
}

// Percent процент пройденных уроков с точностью до десятой, не больше 100
func Percent(completed, total int) float64 {
	if total <= 0 {
		return 0
	}
	p := math.Round(float64(completed)/float64(total)*1000) / 10
	return math.Min(p, 100)
}

func (s *Snapshot) touch(now time.Time) {
	s.LastModifiedAt = now
	s.Dirty = true
}

func (s *Snapshot) lesson(lessonID string, now time.Time) *LessonProgress {
	lp, ok := s.LessonProgress[lessonID]
	if !ok {
		lp = &LessonProgress{StartedAt: now}
		s.LessonProgress[lessonID] = lp
	}
	return lp
}

func (s *Snapshot) section(sectionID string, now time.Time) *SectionProgress {
	sp, ok := s.SectionProgress[sectionID]
	if !ok {
		sp = &SectionProgress{StartedAt: now}
		s.SectionProgress[sectionID] = sp
	}
	return sp
}

// StartLesson создает запись урока, если ее нет, и переводит указатели на урок
func (s *Snapshot) StartLesson(lessonID, sectionID string, now time.Time) {
	s.lesson(lessonID, now)
	if sectionID != "" {
		s.section(sectionID, now)
		s.CurrentSectionID = sectionID
	}
	s.CurrentLessonID = lessonID
	s.touch(now)
}

// CompleteLesson отмечает урок пройденным. Повторный вызов не меняет набор
// пройденных уроков, но добавляет время. Возвращает true при первом завершении.
func (s *Snapshot) CompleteLesson(lessonID, sectionID string, timeSpent int, now time.Time) bool {
	lp := s.lesson(lessonID, now)
	lp.TimeSpentSeconds += max(timeSpent, 0)
	s.TotalTimeSpentSeconds += max(timeSpent, 0)

	first := !contains(s.CompletedLessonIDs, lessonID)
	if first {
		s.CompletedLessonIDs = insert(s.CompletedLessonIDs, lessonID)
		at := now
		lp.CompletedAt = &at
	}

	if sectionID != "" {
		sp := s.section(sectionID, now)
		sp.TimeSpentSeconds += max(timeSpent, 0)
		sp.CompletedLessons = insert(sp.CompletedLessons, lessonID)
		s.checkSection(sectionID, sp, now)
		s.CurrentSectionID = sectionID
	}

	s.CurrentLessonID = lessonID
	s.recompute()
	s.touch(now)
	return first
}

func (s *Snapshot) checkSection(sectionID string, sp *SectionProgress, now time.Time) {
	if sp.LessonCount <= 0 || len(sp.CompletedLessons) < sp.LessonCount {
		return
	}
	if sp.CompletedAt == nil {
		at := now
		sp.CompletedAt = &at
	}
	s.CompletedSectionIDs = insert(s.CompletedSectionIDs, sectionID)
}

// AddTime добавляет время к уроку и курсу
func (s *Snapshot) AddTime(lessonID string, seconds int, now time.Time) {
	if seconds <= 0 {
		return
	}
	if lessonID != "" {
		s.lesson(lessonID, now).TimeSpentSeconds += seconds
	}
	s.TotalTimeSpentSeconds += seconds
	s.touch(now)
}

// SetLessonCount задает число уроков в курсе
func (s *Snapshot) SetLessonCount(n int, now time.Time) {
	s.LessonCount = max(n, 0)
	s.recompute()
	s.touch(now)
}

// SetSectionLessonCount задает число уроков в разделе
func (s *Snapshot) SetSectionLessonCount(sectionID string, n int, now time.Time) {
	sp := s.section(sectionID, now)
	sp.LessonCount = max(n, 0)
	s.checkSection(sectionID, sp, now)
	s.touch(now)
}

func (s *Snapshot) RecordInteraction(lessonID string, in Interaction, now time.Time) {
	lp := s.lesson(lessonID, now)
	lp.Interactions = append(lp.Interactions, in)
	s.touch(now)
}

func (s *Snapshot) UpdatePosition(lessonID string, pos Position, now time.Time) {
	lp := s.lesson(lessonID, now)
	lp.LastPosition = &pos
	s.touch(now)
}

func (s *Snapshot) AddNote(lessonID string, note Note, now time.Time) {
	lp := s.lesson(lessonID, now)
	lp.Notes = append(lp.Notes, note)
	s.touch(now)
}

func (s *Snapshot) AddBookmark(lessonID string, b Bookmark, now time.Time) {
	lp := s.lesson(lessonID, now)
	lp.Bookmarks = append(lp.Bookmarks, b)
	s.touch(now)
}

// ApplyQuizResult добавляет результат в историю. Лучший результат только растет,
// признак прохождения не сбрасывается.
func (s *Snapshot) ApplyQuizResult(quizID string, r QuizResult, now time.Time) {
	qs, ok := s.QuizScores[quizID]
	if !ok {
		qs = &QuizScore{}
		s.QuizScores[quizID] = qs
	}

	qs.History = append(qs.History, r)
	qs.AttemptCount = len(qs.History)
	qs.raise(r)
	s.touch(now)
}

// ReconcileQuizResult записывает подтвержденную сервером оценку попытки.
// Лучший результат не уменьшается, даже если сервер оценил ниже.
// Снимок не помечается измененным: оценка пришла с сервера.
func (s *Snapshot) ReconcileQuizResult(quizID string, r QuizResult) {
	qs, ok := s.QuizScores[quizID]
	if !ok {
		qs = &QuizScore{}
		s.QuizScores[quizID] = qs
	}

	r.Confirmed = true
	replaced := false
	for i := range qs.History {
		if qs.History[i].AttemptID == r.AttemptID {
			qs.History[i] = r
			replaced = true
			break
		}
	}
	if !replaced {
		qs.History = append(qs.History, r)
	}
	qs.AttemptCount = len(qs.History)
	qs.raise(r)
}

func (q *QuizScore) raise(r QuizResult) {
	if r.Percentage > q.BestPercentage {
		q.BestPercentage = r.Percentage
	}
	if r.Score > q.BestScore {
		q.BestScore = r.Score
	}
	q.Passed = q.Passed || r.Passed
}

// ApplyServer накладывает серверное состояние: пройденные уроки объединяются,
// время берется максимальное. Время локального изменения не меняется.
func (s *Snapshot) ApplyServer(p learning.CourseProgress, now time.Time) {
	for _, id := range p.CompletedLessonIDs {
		if !contains(s.CompletedLessonIDs, id) {
			s.CompletedLessonIDs = insert(s.CompletedLessonIDs, id)
			lp := s.lesson(id, now)
			if lp.CompletedAt == nil {
				at := now
				lp.CompletedAt = &at
			}
		}
	}
	for _, id := range p.CompletedSectionIDs {
		s.CompletedSectionIDs = insert(s.CompletedSectionIDs, id)
	}

	s.TotalTimeSpentSeconds = max(s.TotalTimeSpentSeconds, p.TotalTimeSpentSeconds)
	if s.CurrentLessonID == "" {
		s.CurrentLessonID = p.CurrentLessonID
	}

	s.recompute()
}

// MarkSynced снимает флаг изменений, если после отправленного состояния
// (modifiedAt) локальных изменений не было.
func (s *Snapshot) MarkSynced(modifiedAt, at time.Time) {
	s.LastSyncedAt = at
	if !s.LastModifiedAt.After(modifiedAt) {
		s.Dirty = false
	}
}

// CourseProgress представление снимка для сервера
func (s *Snapshot) CourseProgress() learning.CourseProgress {
	return learning.CourseProgress{
		CourseID:               s.CourseID,
		CompletedLessonIDs:     append([]string(nil), s.CompletedLessonIDs...),
		CompletedSectionIDs:    append([]string(nil), s.CompletedSectionIDs...),
		OverallProgressPercent: s.OverallProgressPercent,
		TotalTimeSpentSeconds:  s.TotalTimeSpentSeconds,
		CurrentLessonID:        s.CurrentLessonID,
		UpdatedAt:              s.LastModifiedAt,
	}
}

func contains(set []string, v string) bool {
	i := sort.SearchStrings(set, v)
	return i < len(set) && set[i] == v
}

// insert добавляет значение в отсортированное множество
func insert(set []string, v string) []string {
	i := sort.SearchStrings(set, v)
	if i < len(set) && set[i] == v {
		return set
	}
	set = append(set, "")
	copy(set[i+1:], set[i:])
	set[i] = v
	return set
}

package progress

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"studysync/cmd/client/cmd/types"
)

var courseID string

// ProgressCmd - родительская команда для прогресса курса
var ProgressCmd = &cobra.Command{
	Use:   "progress",
	Short: "Прогресс курса",
}

var ShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Показать прогресс курса",
	RunE: func(cmd *cobra.Command, _ []string) error {
		e, err := types.Engine(cmd)
		if err != nil {
			return err
		}
		snap, err := e.GetProgress(cmd.Context(), courseID)
		if err != nil {
			return fmt.Errorf("ошибка получения прогресса: %w", err)
		}

		if types.JSONOutput {
			return types.PrintJSON(snap)
		}

		fmt.Printf("=== Курс %s ===\n", snap.CourseID)
		fmt.Printf("Прогресс: %.1f%% (%d из %d уроков)\n",
			snap.OverallProgressPercent, len(snap.CompletedLessonIDs), snap.LessonCount)
		fmt.Printf("Время: %d сек.\n", snap.TotalTimeSpentSeconds)
		if snap.CurrentLessonID != "" {
			fmt.Printf("Текущий урок: %s\n", snap.CurrentLessonID)
		}

		if len(snap.QuizScores) > 0 {
			quizIDs := make([]string, 0, len(snap.QuizScores))
			for id := range snap.QuizScores {
				quizIDs = append(quizIDs, id)
			}
			sort.Strings(quizIDs)

			fmt.Println("Тесты:")
			for _, id := range quizIDs {
				q := snap.QuizScores[id]
				state := types.Warn("не пройден")
				if q.Passed {
					state = types.OK("пройден")
				}
				fmt.Printf("  %s: лучший результат %.1f%%, попыток %d, %s\n", id, q.BestPercentage, q.AttemptCount, state)
			}
		}

		if snap.Dirty {
			fmt.Println(types.Warn("Есть несинхронизированные изменения"))
		} else if !snap.LastSyncedAt.IsZero() {
			fmt.Println(types.Dim("Синхронизировано: " + snap.LastSyncedAt.Local().Format("2006-01-02 15:04:05")))
		}
		return nil
	},
}

func init() {
	ShowCmd.Flags().StringVarP(&courseID, "course", "c", "", "идентификатор курса")
	_ = ShowCmd.MarkFlagRequired("course")
}

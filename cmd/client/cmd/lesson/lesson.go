package lesson

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"studysync/cmd/client/cmd/types"
	"studysync/internal/domain/progress"
)

var (
	courseID  string
	sectionID string
	timeSpent int
)

// LessonCmd - родительская команда для прогресса уроков
var LessonCmd = &cobra.Command{
	Use:   "lesson",
	Short: "Прогресс уроков",
}

var StartCmd = &cobra.Command{
	Use:   "start <lessonId>",
	Short: "Начать урок",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := types.Engine(cmd)
		if err != nil {
			return err
		}
		snap, err := e.StartLesson(cmd.Context(), courseID, args[0], sectionID)
		if err != nil {
			return fmt.Errorf("ошибка начала урока: %w", err)
		}
		return printSnapshot(snap, fmt.Sprintf("Урок %s начат", args[0]))
	},
}

var CompleteCmd = &cobra.Command{
	Use:   "complete <lessonId>",
	Short: "Отметить урок пройденным",
	Long: `Отмечает урок пройденным и ставит отметку в очередь синхронизации.
Повторная отметка не меняет набор пройденных уроков.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := types.Engine(cmd)
		if err != nil {
			return err
		}
		snap, err := e.CompleteLesson(cmd.Context(), courseID, args[0], sectionID, timeSpent)
		if err != nil {
			return fmt.Errorf("ошибка отметки урока: %w", err)
		}
		return printSnapshot(snap, fmt.Sprintf("Урок %s пройден", args[0]))
	},
}

var TimeCmd = &cobra.Command{
	Use:   "time <lessonId> <seconds>",
	Short: "Учесть время в уроке",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		seconds, err := strconv.Atoi(args[1])
		if err != nil || seconds < 0 {
			return fmt.Errorf("некорректное время: %q", args[1])
		}

		e, err := types.Engine(cmd)
		if err != nil {
			return err
		}
		snap, err := e.TrackTime(cmd.Context(), courseID, args[0], seconds)
		if err != nil {
			return fmt.Errorf("ошибка учета времени: %w", err)
		}
		return printSnapshot(snap, fmt.Sprintf("Учтено %d сек.", seconds))
	},
}

func printSnapshot(snap *progress.Snapshot, message string) error {
	if types.JSONOutput {
		return types.PrintJSON(snap)
	}
	fmt.Printf("%s %s\n", types.OK("✓"), message)
	fmt.Printf("Курс %s: пройдено уроков %d, прогресс %.1f%%, время %d сек.\n",
		snap.CourseID, len(snap.CompletedLessonIDs), snap.OverallProgressPercent, snap.TotalTimeSpentSeconds)
	return nil
}

func init() {
	LessonCmd.PersistentFlags().StringVarP(&courseID, "course", "c", "", "идентификатор курса")
	_ = LessonCmd.MarkPersistentFlagRequired("course")
	StartCmd.Flags().StringVar(&sectionID, "section", "", "идентификатор раздела")
	CompleteCmd.Flags().StringVar(&sectionID, "section", "", "идентификатор раздела")
	CompleteCmd.Flags().IntVar(&timeSpent, "time", 0, "время в уроке, сек.")
}

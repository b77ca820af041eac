package quiz

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"studysync/cmd/client/cmd/types"
	clientquiz "studysync/internal/app/client/quiz"
	"studysync/internal/domain/action"
	"studysync/internal/domain/quiz"
)

var (
	courseID    string
	answersJSON string
	score       float64
	percentage  float64
	timeSpent   int
)

// QuizCmd - родительская команда для попыток тестов
var QuizCmd = &cobra.Command{
	Use:   "quiz",
	Short: "Попытки тестов",
}

var SubmitCmd = &cobra.Command{
	Use:   "submit <quizId>",
	Short: "Записать попытку теста",
	Long: `Сохраняет попытку локально и ставит ее в очередь. Ответы передаются
JSON-объектом {"questionId": "answer", ...}.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var raw map[string]string
		if answersJSON != "" {
			if err := json.Unmarshal([]byte(answersJSON), &raw); err != nil {
				return fmt.Errorf("некорректные ответы: %w", err)
			}
		}
		answers := make([]action.Answer, 0, len(raw))
		for q, a := range raw {
			answers = append(answers, action.Answer{QuestionID: q, Answer: a})
		}

		e, err := types.Engine(cmd)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		rec, err := e.SubmitQuiz(cmd.Context(), clientquiz.Submission{
			CourseID:         courseID,
			QuizID:           args[0],
			Answers:          answers,
			LocalScore:       score,
			LocalPercentage:  percentage,
			TimeSpentSeconds: timeSpent,
			StartedAt:        now.Add(-time.Duration(timeSpent) * time.Second),
			CompletedAt:      now,
		})
		if err != nil {
			return fmt.Errorf("ошибка записи попытки: %w", err)
		}

		if types.JSONOutput {
			return types.PrintJSON(rec)
		}
		fmt.Printf("%s Попытка #%d сохранена (%s)\n", types.OK("✓"), rec.AttemptNumber, rec.AttemptID)
		return nil
	},
}

var AttemptsCmd = &cobra.Command{
	Use:   "attempts <quizId>",
	Short: "Локальные попытки теста",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := types.Engine(cmd)
		if err != nil {
			return err
		}
		records, err := e.QuizAttempts(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("ошибка получения попыток: %w", err)
		}

		if types.JSONOutput {
			return types.PrintJSON(records)
		}
		if len(records) == 0 {
			fmt.Println("Попыток нет")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "#\tЗАВЕРШЕНА\tЛОКАЛЬНО\tСЕРВЕР\tСТАТУС")
		for _, r := range records {
			fmt.Fprintf(w, "%d\t%s\t%.1f%%\t%s\t%s\n",
				r.AttemptNumber,
				r.CompletedAt.Local().Format("2006-01-02 15:04"),
				r.LocalPercentage,
				serverScore(r),
				syncState(r),
			)
		}
		return w.Flush()
	},
}

func serverScore(r *quiz.AttemptRecord) string {
	if r.ServerPercentage == nil {
		return "-"
	}
	return fmt.Sprintf("%.1f%%", *r.ServerPercentage)
}

func syncState(r *quiz.AttemptRecord) string {
	if r.Synced() {
		return types.OK("синхронизирована")
	}
	return types.Warn("ожидает")
}

func init() {
	SubmitCmd.Flags().StringVarP(&courseID, "course", "c", "", "идентификатор курса")
	_ = SubmitCmd.MarkFlagRequired("course")
	SubmitCmd.Flags().StringVar(&answersJSON, "answers", "", `ответы JSON: {"q1":"a"}`)
	SubmitCmd.Flags().Float64Var(&score, "score", 0, "локальная оценка")
	SubmitCmd.Flags().Float64Var(&percentage, "percentage", 0, "локальный процент")
	SubmitCmd.Flags().IntVar(&timeSpent, "time", 0, "время прохождения, сек.")
}

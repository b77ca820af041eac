package queue

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"studysync/cmd/client/cmd/types"
	clientqueue "studysync/internal/app/client/queue"
	"studysync/internal/domain/action"
)

var (
	statusFilter string
	kindFilter   string
	courseFilter string
)

// QueueCmd - родительская команда для очереди действий
var QueueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Очередь действий",
}

var ListCmd = &cobra.Command{
	Use:   "list",
	Short: "Список действий",
	RunE: func(cmd *cobra.Command, _ []string) error {
		kind := action.Kind(kindFilter)
		if kind != "" && !kind.Valid() {
			return fmt.Errorf("неизвестный вид действия: %q", kindFilter)
		}

		e, err := types.Engine(cmd)
		if err != nil {
			return err
		}

		f := clientqueue.Filter{
			OwnerID: e.Owner(),
			Kind:    kind,
			Status:  action.Status(statusFilter),
		}
		if courseFilter != "" {
			f.Partition = action.PartitionKey(e.Owner(), courseFilter)
		}

		actions, err := e.Actions(cmd.Context(), f)
		if err != nil {
			return fmt.Errorf("ошибка получения очереди: %w", err)
		}

		if types.JSONOutput {
			return types.PrintJSON(actions)
		}
		if len(actions) == 0 {
			fmt.Println("Очередь пуста")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tВИД\tКУРС\tСТАТУС\tПОПЫТКИ\tСЛЕДУЮЩАЯ\tОШИБКА")
		for _, a := range actions {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d/%d\t%s\t%s\n",
				a.ID, a.Kind, orDash(a.CourseID), paintStatus(a.Status),
				a.AttemptCount, a.MaxAttempts,
				a.NextAttemptAt.Local().Format("15:04:05"), orDash(a.LastError))
		}
		return w.Flush()
	},
}

var RetryCmd = &cobra.Command{
	Use:   "retry <actionId>",
	Short: "Вернуть действие из ошибок в очередь",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := types.Engine(cmd)
		if err != nil {
			return err
		}
		if err := e.RetryAction(cmd.Context(), args[0]); err != nil {
			return fmt.Errorf("ошибка возврата действия: %w", err)
		}
		fmt.Printf("%s Действие %s возвращено в очередь\n", types.OK("✓"), args[0])
		return nil
	},
}

var DeleteCmd = &cobra.Command{
	Use:   "delete <actionId>",
	Short: "Удалить действие",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := types.Engine(cmd)
		if err != nil {
			return err
		}
		if err := e.DeleteAction(cmd.Context(), args[0]); err != nil {
			return fmt.Errorf("ошибка удаления действия: %w", err)
		}
		fmt.Printf("%s Действие %s удалено\n", types.OK("✓"), args[0])
		return nil
	},
}

func paintStatus(s action.Status) string {
	switch s {
	case action.StatusFailed:
		return types.Bad(string(s))
	case action.StatusInFlight:
		return types.Warn(string(s))
	}
	return string(s)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func init() {
	ListCmd.Flags().StringVar(&statusFilter, "status", "", "фильтр по статусу (pending, in_flight, failed)")
	ListCmd.Flags().StringVar(&kindFilter, "kind", "", "фильтр по виду действия")
	ListCmd.Flags().StringVar(&courseFilter, "course", "", "фильтр по курсу")
}

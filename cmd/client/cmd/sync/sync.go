package sync

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"studysync/cmd/client/cmd/types"
	"studysync/internal/app/client"
)

var (
	syncStatus    bool
	showConflicts bool
)

var SyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Управление синхронизацией",
	Long: `Синхронизация данных между клиентом и сервером.

Команда выполняет проход по очереди, показывает статус
и список конфликтов.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		e, err := types.Engine(cmd)
		if err != nil {
			return err
		}

		if syncStatus {
			return showSyncStatus(cmd.Context(), e)
		}
		if showConflicts {
			return showSyncConflicts(e)
		}
		return runSync(cmd.Context(), e)
	},
}

var ResolveCmd = &cobra.Command{
	Use:   "resolve <actionId> <client_wins|server_wins|merge>",
	Short: "Разрешить конфликт",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := types.Engine(cmd)
		if err != nil {
			return err
		}
		if err := e.Resolve(cmd.Context(), args[0], args[1]); err != nil {
			return fmt.Errorf("ошибка разрешения конфликта: %w", err)
		}
		fmt.Printf("%s Конфликт %s разрешен (%s)\n", types.OK("✓"), args[0], args[1])
		return nil
	},
}

func runSync(ctx context.Context, e *client.Engine) error {
	if !types.JSONOutput {
		fmt.Println("=== Синхронизация данных ===")
		reading := e.CheckConnection(ctx)
		if !reading.Up {
			fmt.Println(types.Warn("Сервер недоступен, действия останутся в очереди"))
		}
	}

	res, err := e.SyncNow(ctx)
	if err != nil {
		return fmt.Errorf("ошибка синхронизации: %w", err)
	}

	if types.JSONOutput {
		return types.PrintJSON(res)
	}

	fmt.Printf("Выполнено:           %s\n", types.OK(fmt.Sprint(res.Succeeded)))
	fmt.Printf("Уже на сервере:      %d\n", res.Duplicates)
	fmt.Printf("Отложено:            %d\n", res.Retried)
	fmt.Printf("Ошибки:              %s\n", colorCount(res.Failed, types.Bad))
	fmt.Printf("Конфликты:           %s\n", colorCount(res.Conflicts, types.Warn))
	fmt.Printf("Длительность:        %v\n", res.Duration.Round(time.Millisecond))
	for _, msg := range res.Errors {
		fmt.Println(types.Dim("  " + msg))
	}
	if res.Conflicts > 0 {
		fmt.Println("Используйте 'sync --conflicts' и 'resolve' для разрешения конфликтов")
	}
	return nil
}

func showSyncStatus(ctx context.Context, e *client.Engine) error {
	st, err := e.Status(ctx)
	if err != nil {
		return fmt.Errorf("ошибка получения статуса: %w", err)
	}

	if types.JSONOutput {
		return types.PrintJSON(st)
	}

	fmt.Println("=== Статус синхронизации ===")
	online := types.Bad("нет")
	if st.Online {
		online = types.OK("да")
	}
	fmt.Printf("Сеть:                %s (%s)\n", online, st.Quality)
	fmt.Printf("Планировщик:         %s\n", st.Scheduler)
	fmt.Printf("В очереди:           %d\n", st.Pending)
	fmt.Printf("Выполняется:         %d\n", st.InFlight)
	fmt.Printf("Ошибки:              %s\n", colorCount(st.Failed, types.Bad))
	fmt.Printf("Конфликты:           %s\n", colorCount(st.Conflicts, types.Warn))
	if st.LastSuccessfulSync.IsZero() {
		fmt.Println("Последняя синхронизация: никогда")
	} else {
		fmt.Printf("Последняя синхронизация: %s\n", st.LastSuccessfulSync.Local().Format("2006-01-02 15:04:05"))
	}
	if st.Degraded {
		fmt.Println(types.Warn(fmt.Sprintf("Хранилище в резервном режиме, ожидают записи: %d", st.DegradedWrites)))
	}

	fmt.Println("\n=== Статистика ===")
	fmt.Printf("Проходов:            %d\n", st.Stats.TotalPasses)
	fmt.Printf("Успешных действий:   %d\n", st.Stats.TotalSucceeded)
	fmt.Printf("Неудачных действий:  %d\n", st.Stats.TotalFailed)
	fmt.Printf("Среднее время:       %.2f сек.\n", st.Stats.AvgPassDuration)
	return nil
}

func showSyncConflicts(e *client.Engine) error {
	conflicts := e.Conflicts()

	if types.JSONOutput {
		return types.PrintJSON(conflicts)
	}
	if len(conflicts) == 0 {
		fmt.Println(types.OK("Конфликтов нет"))
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ДЕЙСТВИЕ\tВИД\tКУРС\tОБНАРУЖЕН\tПРИЧИНА")
	for _, c := range conflicts {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			c.ActionID, c.Kind, orDash(c.CourseID),
			c.DetectedAt.Local().Format("2006-01-02 15:04"), c.Reason)
	}
	return w.Flush()
}

func colorCount(n int, paint func(...any) string) string {
	if n == 0 {
		return "0"
	}
	return paint(fmt.Sprint(n))
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func init() {
	SyncCmd.Flags().BoolVar(&syncStatus, "status", false, "показать статус синхронизации")
	SyncCmd.Flags().BoolVar(&showConflicts, "conflicts", false, "показать конфликты")
}

package cmd

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"studysync/cmd/client/cmd/types"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Запустить фоновую синхронизацию",
	Long: `Запускает монитор сети и планировщик синхронизации и работает до
SIGINT/SIGTERM. Проходы синхронизации запускаются по таймеру, при
восстановлении сети и при появлении новых действий в очереди.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		e, err := types.Engine(cmd)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		e.Start(ctx)
		<-ctx.Done()

		// Stop закрывает хранилище, PersistentPostRunE закроет его повторно
		app = nil
		return e.Stop()
	},
}

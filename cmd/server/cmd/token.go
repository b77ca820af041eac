package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var tokenUser string

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Управление токенами доступа",
}

var tokenCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Выпустить bearer-токен для пользователя",
	Long: `Создает сессию пользователя и печатает токен.
Токен передается клиенту командой: studysync auth set-token <token>.
Без DATABASE_URI токен действует только внутри этого процесса.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if tokenUser == "" {
			return fmt.Errorf("укажите пользователя: --user <id>")
		}

		b, err := openBackend(cmd.Context())
		if err != nil {
			return err
		}
		defer b.close()

		token, err := b.deps.Sessions.Create(cmd.Context(), tokenUser)
		if err != nil {
			return fmt.Errorf("создание токена: %w", err)
		}

		fmt.Println(token)
		return nil
	},
}

func init() {
	tokenCreateCmd.Flags().StringVar(&tokenUser, "user", "", "идентификатор пользователя")
}

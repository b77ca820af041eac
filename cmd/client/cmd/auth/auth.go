package auth

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"studysync/cmd/client/cmd/types"
	"studysync/internal/app/client/config"
	"studysync/internal/app/client/remote"
)

// AuthCmd - родительская команда для управления доступом
var AuthCmd = &cobra.Command{
	Use:   "auth",
	Short: "Управление доступом к серверу",
	Long: `Клиент передает серверу bearer-токен. Токен выпускается на сервере
командой studysync-server token create --user <id>.`,
}

var SetTokenCmd = &cobra.Command{
	Use:   "set-token [token]",
	Short: "Сохранить bearer-токен",
	Long: `Сохраняет токен в файл конфигурации клиента. Если токен не передан
аргументом, он запрашивается без отображения ввода.`,
	Args: cobra.MaximumNArgs(1),
	// токен не требует движка
	PersistentPreRunE:  func(*cobra.Command, []string) error { return nil },
	PersistentPostRunE: func(*cobra.Command, []string) error { return nil },
	RunE: func(_ *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("ошибка загрузки конфигурации: %w", err)
		}

		var token string
		if len(args) == 1 {
			token = args[0]
		} else {
			if !term.IsTerminal(int(os.Stdin.Fd())) {
				return fmt.Errorf("передайте токен аргументом")
			}
			fmt.Print("Токен: ")
			raw, err := term.ReadPassword(int(os.Stdin.Fd()))
			if err != nil {
				return fmt.Errorf("ошибка чтения токена: %w", err)
			}
			fmt.Println()
			token = string(raw)
		}

		token = strings.TrimSpace(token)
		if token == "" {
			return fmt.Errorf("токен не может быть пустым")
		}

		if err := remote.SaveToken(cfg.TokenPath, token); err != nil {
			return fmt.Errorf("ошибка сохранения токена: %w", err)
		}

		fmt.Printf("%s Токен сохранен в %s\n", types.OK("✓"), cfg.TokenPath)
		return nil
	},
}

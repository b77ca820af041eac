// Package types общие значения для команд клиента
package types

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"studysync/internal/app/client"
)

type contextKey string

// ClientAppKey ключ движка в контексте команды
const ClientAppKey contextKey = "app"

// JSONOutput флаг --json
var JSONOutput bool

// Engine движок, созданный в PersistentPreRunE
func Engine(cmd *cobra.Command) (*client.Engine, error) {
	e, ok := cmd.Context().Value(ClientAppKey).(*client.Engine)
	if !ok || e == nil {
		return nil, fmt.Errorf("приложение не инициализировано")
	}
	return e, nil
}

// Interactive вывод идет в терминал
func Interactive() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// PrintJSON печатает значение с отступами
func PrintJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var (
	OK   = color.New(color.FgGreen).SprintFunc()
	Warn = color.New(color.FgYellow).SprintFunc()
	Bad  = color.New(color.FgRed).SprintFunc()
	Dim  = color.New(color.Faint).SprintFunc()
)

func init() {
	if !Interactive() {
		color.NoColor = true
	}
}

package data

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"studysync/cmd/client/cmd/types"
)

// DataCmd - родительская команда для пользовательских данных
var DataCmd = &cobra.Command{
	Use:   "data",
	Short: "Пользовательские данные (ключ - JSON)",
}

var PutCmd = &cobra.Command{
	Use:   "put <key> <json>",
	Short: "Записать значение",
	Long: `Записывает значение локально и ставит запись в очередь. Значение,
не являющееся JSON, сохраняется как строка.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		value := json.RawMessage(args[1])
		if !json.Valid(value) {
			quoted, err := json.Marshal(args[1])
			if err != nil {
				return err
			}
			value = quoted
		}

		e, err := types.Engine(cmd)
		if err != nil {
			return err
		}
		entry, err := e.PutData(cmd.Context(), args[0], value)
		if err != nil {
			return fmt.Errorf("ошибка записи данных: %w", err)
		}

		if types.JSONOutput {
			return types.PrintJSON(entry)
		}
		fmt.Printf("%s %s сохранено\n", types.OK("✓"), entry.Key)
		return nil
	},
}

var GetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Прочитать значение",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := types.Engine(cmd)
		if err != nil {
			return err
		}
		entry, err := e.GetData(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("ошибка чтения данных: %w", err)
		}

		if types.JSONOutput {
			return types.PrintJSON(entry)
		}
		fmt.Println(string(entry.Value))
		return nil
	},
}

var ListCmd = &cobra.Command{
	Use:   "list",
	Short: "Список ключей",
	RunE: func(cmd *cobra.Command, _ []string) error {
		e, err := types.Engine(cmd)
		if err != nil {
			return err
		}
		entries, err := e.ListData(cmd.Context())
		if err != nil {
			return fmt.Errorf("ошибка получения данных: %w", err)
		}

		if types.JSONOutput {
			return types.PrintJSON(entries)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "КЛЮЧ\tВЕРСИЯ\tСИНХРОНИЗИРОВАНО")
		for _, en := range entries {
			synced := types.Warn("нет")
			if en.Synced {
				synced = types.OK("да")
			}
			fmt.Fprintf(w, "%s\t%d\t%s\n", en.Key, en.Version, synced)
		}
		return w.Flush()
	},
}

package profile

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"studysync/cmd/client/cmd/types"
	"studysync/internal/app/client/userdata"
)

// ProfileCmd - родительская команда для профиля
var ProfileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Профиль пользователя",
}

var ShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Показать профиль",
	RunE: func(cmd *cobra.Command, _ []string) error {
		e, err := types.Engine(cmd)
		if err != nil {
			return err
		}
		p, err := e.Profile(cmd.Context())
		if err != nil {
			return fmt.Errorf("ошибка получения профиля: %w", err)
		}
		return printProfile(p)
	},
}

var UpdateCmd = &cobra.Command{
	Use:   "update key=value...",
	Short: "Изменить поля профиля",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fields := make(map[string]string, len(args))
		for _, arg := range args {
			k, v, ok := strings.Cut(arg, "=")
			if !ok || k == "" {
				return fmt.Errorf("ожидается key=value: %q", arg)
			}
			fields[k] = v
		}

		e, err := types.Engine(cmd)
		if err != nil {
			return err
		}
		p, err := e.UpdateProfile(cmd.Context(), fields)
		if err != nil {
			return fmt.Errorf("ошибка изменения профиля: %w", err)
		}
		return printProfile(p)
	},
}

func printProfile(p *userdata.Profile) error {
	if types.JSONOutput {
		return types.PrintJSON(p)
	}

	pending := p.Pending()
	keys := make([]string, 0, len(p.Fields))
	for k := range p.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		mark := ""
		if _, ok := pending[k]; ok {
			mark = " " + types.Warn("(не синхронизировано)")
		}
		fmt.Printf("%s: %s%s\n", k, p.Fields[k], mark)
	}
	fmt.Println(types.Dim(fmt.Sprintf("версия на сервере: %d", p.Version)))
	return nil
}

// Dozilab CLI — операторская утилита: миграции, шаблоны, маппинг
// проектов и развёртывания.
//
// Использование:
//
//	dozilab [--config FILE] [--json] <command> <subcommand> [flags]
//
// Команды:
//
//	template    Управление шаблонами и их версиями
//	deployment  Запрос, обновление, удаление и статус развёртываний
//	project     Маппинг курсов и владельцев на проекты OpenStack
//	migrate     Миграции PostgreSQL
//	config      Просмотр действующей конфигурации
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/shaiso/Dozilab/internal/cli"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	env := cli.NewEnv()
	rootCmd := cli.NewRootCmd(env, version)

	err := rootCmd.ExecuteContext(ctx)
	env.Close()
	cancel()

	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

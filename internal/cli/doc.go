// Package cli реализует операторскую утилиту dozilab.
//
// CLI работает с компонентами напрямую через internal/app: собирает их по
// той же конфигурации, что и воркер, и вызывает реестр, оркестратор и
// миграции в своём процессе. Длительную работу выполняет dozilab-worker;
// команды только ставят задачи и читают состояние.
//
// # Ключевые компоненты
//
// ## Env
//
// Флаги корневой команды (--config, --json) и лениво собранное приложение.
// Команды получают замыкания env.App и env.Output, поэтому подключение к
// БД происходит только после разбора флагов и только для команд, которым
// оно нужно.
//
// ## Output
//
// Форматирование вывода. Поддерживает два режима:
//   - Таблицы (text/tabwriter) — по умолчанию
//   - JSON — с флагом --json
//
// Данные выводятся в stdout, сообщения об успехе в stderr.
// Это позволяет использовать pipe: dozilab deployment status ID --json | jq .state
//
// ## Commands
//
//   - template: create, show, versions, publish, import, submit, approve, reject, deprecate, visibility
//   - deployment: request, status, history, list, update, delete
//   - project: map
//   - migrate: up, status, down
//   - config: show
package cli

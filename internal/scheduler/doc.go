// Package scheduler реализует восстановительный обход развёртываний.
//
// Scheduler по cron-расписанию ищет развёртывания, которым нужна работа
// исполнителя, но у которых нет открытой задачи, и ставит для них задачу
// recover.
//
// Структура:
//   - scheduler.go — основная логика (Tick, recover) и запуск по расписанию
//   - cron.go      — парсер расписаний и адаптер журнала cron
//
// Использование:
//
//	sweeper := scheduler.New(scheduler.Config{
//	    Deployments: deployments,
//	    Tasks:       tasks,
//	    Notifier:    publisher, // опционально
//	    Schedule:    "@every 1m",
//	    Logger:      logger,
//	})
//
//	if err := sweeper.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer sweeper.Stop()
//
// Несколько экземпляров могут обходить одновременно: лишняя задача
// безвредна, исполнитель под арендой просто завершит её.
package scheduler

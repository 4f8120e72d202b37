// Package worker исполняет задачи развёртываний.
//
// # Обзор
//
// Worker — stateless компонент Dozilab, который двигает развёртывания по
// автомату состояний. Orchestrator только создаёт запись и ставит задачу;
// всю работу с OpenStack делает Worker:
//
//   - Получает сигналы tasks.ready из RabbitMQ (event-driven)
//   - Периодически забирает задачи из очереди в Postgres (polling fallback)
//   - Захватывает аренду развёртывания и выполняет один шаг
//   - Повторяет транзиентные сбои с exponential backoff и jitter
//
// Воркеры масштабируются горизонтально. Задачу из очереди захватывает
// один воркер (FOR UPDATE SKIP LOCKED), развёртывание — одна аренда в Redis.
//
// # Шаги
//
// Шаг выбирается по состоянию развёртывания, а не по виду задачи:
//
//	REQUESTED     → VALIDATING
//	VALIDATING    шаблон, маппинг проекта, квота → PROVISIONING | FAILED
//	PROVISIONING  отмена → DELETING; найти или создать стек dz-<id>,
//	              опрашивать до готовности → ACTIVE | FAILED
//	ACTIVE        отмена → DELETING; новая версия → UPDATING
//	UPDATING      отправить обновление один раз, опрашивать → ACTIVE | FAILED
//	DELETING      удалить стек один раз, опрашивать → DELETED | FAILED
//	FAILED        отмена → DELETING
//
// Шаг, закончившийся в нерабочем состоянии, сразу возвращает задачу в
// очередь. Запросы к Heat идемпотентны: стек ищется по детерминированному
// имени, а флаги UpdateIssued и DeleteIssued не дают отправить операцию
// повторно после перезапуска.
//
// # Ошибки
//
// Исход шага определяется видом ошибки (domain.ErrorKind):
//
//   - validation — сразу FAILED (check_failed)
//   - fatal_infra — сразу FAILED (fatal_error или resource_error)
//   - transient_infra и таймаут шага — попытка засчитывается, задача
//     откладывается на backoff; после RetryCap повторов FAILED (retries_exhausted)
//   - concurrency_conflict — задача сразу в очередь, попытка не засчитывается
//   - занятая аренда — задача откладывается на LeaseRetryDelay
//
// Потеря аренды отменяет контекст шага. Остановка воркера возвращает
// задачу в очередь без учёта попытки.
//
// # Использование
//
//	w := worker.New(worker.Config{
//	    Tasks:     taskStore,
//	    States:    states,
//	    Leases:    leases,
//	    Adapter:   osClient,
//	    Templates: reg,
//	    Quota:     checker,
//	    Secrets:   vault,
//	    Conn:      mqConn,
//	    Logger:    logger,
//	})
//
//	if err := w.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer w.Stop()
package worker

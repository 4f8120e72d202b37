// Package orchestrator — сервис развёртываний.
//
// Service отвечает за:
//   - Проверку запроса: шаблон утверждён и виден запрашивающему, проект найден, квота есть
//   - Создание записи в состоянии REQUESTED (идемпотентно по ключу)
//   - Постановку задач для исполнителя и сигнал tasks.ready
//   - Флаги отмены и обновления для уже работающих развёртываний
//   - Чтение статуса и истории без обращения к исполнителю
//
// Service не ходит в OpenStack: всю работу со стеками делает worker.
package orchestrator

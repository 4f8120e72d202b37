// Package statestore — единственный писатель записей Deployment и DeploymentInstance.
//
// Любое изменение развёртывания проходит через Transition или Update:
//   - допустимость ребра проверяется по автомату domain
//   - запись условна по ревизии (compare-and-swap)
//   - переход и событие истории пишутся атомарно
//
// Устаревшая ревизия даёт domain.ErrConcurrencyConflict и ничего не меняет.
package statestore

// Package store описывает интерфейсы хранилища для каждой сущности.
//
// Реализации:
//   - repo     — PostgreSQL (pgx), основное хранилище
//   - memstore — go-memdb, для тестов и локального запуска
//
// Ядро зависит только от этих интерфейсов.
package store

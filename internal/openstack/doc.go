// Package openstack — адаптер к OpenStack: стеки Heat и лимиты Nova.
//
// Адаптер не делает внутренних повторов. Любая ошибка нормализуется в
// domain.Error: транзиентные (сеть, 5xx, истёкший токен, открытый
// circuit breaker) повторяет исполнитель, фатальные переводят
// развёртывание в FAILED.
//
// Backend отделяет нормализацию ошибок от транспорта: в production это
// gophercloud, в тестах — Fake.
package openstack

package taskrunner

import "sync"

// KeyedMutex - набор мьютексов по строковому ключу. Используется для
// критических секций в пределах одной истории: создание ревизии и
// сохранение шага не должны чередоваться для одного storyID.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

// NewKeyedMutex создает пустой набор мьютексов.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyedLock)}
}

// Lock захватывает мьютекс ключа и возвращает функцию освобождения.
// Запись ключа удаляется, когда последний держатель освобождает ее.
func (km *KeyedMutex) Lock(key string) func() {
	km.mu.Lock()
	lock, ok := km.locks[key]
	if !ok {
		lock = &keyedLock{}
		km.locks[key] = lock
	}
	lock.refs++
	km.mu.Unlock()

	lock.mu.Lock()

	return func() {
		lock.mu.Unlock()
		km.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(km.locks, key)
		}
		km.mu.Unlock()
	}
}

package pkg

import "sync"

type HasLocker interface{ GetLocker() *sync.RWMutex }

func LockWrap(i HasLocker, f func()) {
	i.GetLocker().Lock()
	defer i.GetLocker().Unlock()
	f()
}

func RLockWrap(i HasLocker, f func()) {
	i.GetLocker().RLock()
	defer i.GetLocker().RUnlock()
	f()
}

// KeyedMutex hands out one mutex per key, created on first use
// and kept for the lifetime of the KeyedMutex.
type KeyedMutex struct {
	locker sync.RWMutex
	locks  Map[string, *sync.Mutex]
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: Map[string, *sync.Mutex]{}}
}

func (k *KeyedMutex) GetLocker() *sync.RWMutex { return &k.locker }

func (k *KeyedMutex) Get(key string) *sync.Mutex {
	var m *sync.Mutex
	RLockWrap(k, func() { m = k.locks.Get(key) })
	if m != nil {
		return m
	}

	LockWrap(k, func() {
		m = k.locks.Get(key)
		if m == nil {
			m = &sync.Mutex{}
			k.locks.Set(key, m)
		}
	})
	return m
}

// Do runs f while holding the mutex for key.
func (k *KeyedMutex) Do(key string, f func() error) error {
	m := k.Get(key)
	m.Lock()
	defer m.Unlock()
	return f()
}

func (k *KeyedMutex) Len() int {
	n := 0
	RLockWrap(k, func() { n = len(k.locks) })
	return n
}

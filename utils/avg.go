package utils

import "sync"

// Mean is a running average. Scrapers may read it from another goroutine.
type Mean struct {
	lock  sync.Mutex
	v     float64
	count int
}

func (m *Mean) Add(val float64) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.count++
	m.v += (val - m.v) / float64(m.count)
}

// Val is zero until something is added.
func (m *Mean) Val() float64 {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.v
}

func (m *Mean) Count() int {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.count
}

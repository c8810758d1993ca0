package controller

import (
	"sync"

	"github.com/Audric-Dune/mondon-server/internal/domain"
	"github.com/Audric-Dune/mondon-server/internal/ports"
)

type mockObs struct {
	mu     sync.Mutex
	infos  []string
	errors []error
}

func (m *mockObs) LogDebug(string, ...ports.Field) {}
func (m *mockObs) LogInfo(msg string, _ ...ports.Field) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.infos = append(m.infos, msg)
}
func (m *mockObs) LogError(_ string, err error, _ ...ports.Field) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, err)
}
func (m *mockObs) LogCritical(string, error, ...ports.Field) {}
func (m *mockObs) IncCounter(string, float64)                {}
func (m *mockObs) ObserveLatency(string, float64)            {}
func (m *mockObs) SetGauge(string, float64)                  {}
func (m *mockObs) RecordDeadLetter(domain.Reading, error)    {}

package store

import (
	"github.com/Audric-Dune/mondon-server/internal/domain"
	"github.com/Audric-Dune/mondon-server/internal/ports"
)

type mockObs struct {
	errors   []error
	counters map[string]float64
}

func newMockObs() *mockObs { return &mockObs{counters: map[string]float64{}} }

func (m *mockObs) LogDebug(string, ...ports.Field)                {}
func (m *mockObs) LogInfo(string, ...ports.Field)                 {}
func (m *mockObs) LogError(_ string, err error, _ ...ports.Field) { m.errors = append(m.errors, err) }
func (m *mockObs) LogCritical(string, error, ...ports.Field)      {}
func (m *mockObs) IncCounter(name string, v float64)              { m.counters[name] += v }
func (m *mockObs) ObserveLatency(string, float64)                 {}
func (m *mockObs) SetGauge(string, float64)                       {}
func (m *mockObs) RecordDeadLetter(domain.Reading, error)         {}

package mock

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/feyerinaGO/OptimalInvesting/internal/models"
)

// Host is a testify mock of strategy.Host.
type Host struct {
	mock.Mock
}

func (m *Host) Now() time.Time {
	return m.Called().Get(0).(time.Time)
}

func (m *Host) IsWarmingUp() bool {
	return m.Called().Bool(0)
}

func (m *Host) AddEquity(symbol string) error {
	return m.Called(symbol).Error(0)
}

func (m *Host) SetWarmUp(d time.Duration) {
	m.Called(d)
}

func (m *Host) Schedule(name string, afterOpen time.Duration, fn func(context.Context)) {
	m.Called(name, afterOpen, fn)
}

func (m *Host) History(symbol string, n int) ([]models.Bar, error) {
	args := m.Called(symbol, n)
	bars, _ := args.Get(0).([]models.Bar)
	return bars, args.Error(1)
}

func (m *Host) OptionContractList(underlying string, at time.Time) []models.OptionContract {
	list, _ := m.Called(underlying, at).Get(0).([]models.OptionContract)
	return list
}

func (m *Host) AddOptionContract(c models.OptionContract) error {
	return m.Called(c).Error(0)
}

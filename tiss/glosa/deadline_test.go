package glosa

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"

	"github.com/clinicbr/go-tiss-client/tiss/model"
)

func TestAppealDeadline(t *testing.T) {
	g := &model.Glosa{
		DataRecebimento: time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC),
	}

	assert.Equal(t, time.Date(2026, 2, 9, 0, 0, 0, 0, time.UTC), AppealDeadline(g))
}

func TestIsWithinAppealDeadline(t *testing.T) {
	recebimento := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	g := &model.Glosa{DataRecebimento: recebimento}

	// no dia do recebimento
	clock := clockwork.NewFakeClockAt(recebimento)
	assert.True(t, IsWithinAppealDeadline(g, clock))

	// no trigésimo dia, inclusive
	clock = clockwork.NewFakeClockAt(recebimento.AddDate(0, 0, 30))
	assert.True(t, IsWithinAppealDeadline(g, clock))

	// um segundo após o prazo
	clock = clockwork.NewFakeClockAt(recebimento.AddDate(0, 0, 30).Add(time.Second))
	assert.False(t, IsWithinAppealDeadline(g, clock))

	// no trigésimo primeiro dia
	clock = clockwork.NewFakeClockAt(recebimento.AddDate(0, 0, 31))
	assert.False(t, IsWithinAppealDeadline(g, clock))
}

func TestDaysToAppealDeadline(t *testing.T) {
	recebimento := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	g := &model.Glosa{DataRecebimento: recebimento}

	clock := clockwork.NewFakeClockAt(recebimento)
	assert.Equal(t, 30, DaysToAppealDeadline(g, clock))

	clock = clockwork.NewFakeClockAt(recebimento.AddDate(0, 0, 35))
	assert.Equal(t, -5, DaysToAppealDeadline(g, clock))
}

func TestDaysToAppealDeadlineNaFronteira(t *testing.T) {
	recebimento := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	g := &model.Glosa{DataRecebimento: recebimento}
	prazo := AppealDeadline(g)

	// uma hora antes do prazo: resta menos de um dia inteiro
	clock := clockwork.NewFakeClockAt(prazo.Add(-time.Hour))
	assert.Equal(t, 0, DaysToAppealDeadline(g, clock))
	assert.True(t, IsWithinAppealDeadline(g, clock))

	// no prazo exato
	clock = clockwork.NewFakeClockAt(prazo)
	assert.Equal(t, 0, DaysToAppealDeadline(g, clock))
	assert.True(t, IsWithinAppealDeadline(g, clock))

	// qualquer fração de dia além do prazo já é negativo, nunca zero
	clock = clockwork.NewFakeClockAt(prazo.Add(time.Hour))
	assert.Equal(t, -1, DaysToAppealDeadline(g, clock))
	assert.False(t, IsWithinAppealDeadline(g, clock))

	clock = clockwork.NewFakeClockAt(prazo.AddDate(0, 0, 1))
	assert.Equal(t, -1, DaysToAppealDeadline(g, clock))
}

package cert

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/clinicbr/go-tiss-client/tiss"
)

// ErrRateLimited sinaliza excesso de cargas de certificado pela mesma clínica
// dentro da janela de um minuto.
var ErrRateLimited = errors.New("certificate loads rate limited for clinic")

// Store controla o acesso ao certificado por clínica. O acesso é stateless
// por chamada: nenhum material do certificado fica em cache entre invocações,
// apenas a contagem de cargas para o limite por minuto.
type Store struct {
	clock clockwork.Clock
	limit int

	mu    sync.Mutex
	loads map[string][]time.Time
}

func NewStore(clock clockwork.Clock, loadsPerMinute int) *Store {
	if loadsPerMinute <= 0 {
		loadsPerMinute = 30
	}
	return &Store{
		clock: clock,
		limit: loadsPerMinute,
		loads: make(map[string][]time.Time),
	}
}

// Load aplica o limite por clínica e decodifica o contêiner. A clínica vem
// do contexto (partição multi-tenant).
func (s *Store) Load(ctx context.Context, p12 []byte, password string) (*Certificate, error) {
	clinic, ok := tiss.ClinicFromContext(ctx)
	if !ok || clinic == "" {
		return nil, tiss.ErrNoClinic
	}

	if err := s.acquire(clinic); err != nil {
		return nil, err
	}

	return Load(p12, password)
}

func (s *Store) acquire(clinic string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	cutoff := now.Add(-time.Minute)

	recent := s.loads[clinic][:0]
	for _, t := range s.loads[clinic] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= s.limit {
		s.loads[clinic] = recent
		logger.WithField("clinic", clinic).Warn("limite de cargas de certificado excedido")
		return ErrRateLimited
	}

	s.loads[clinic] = append(recent, now)
	return nil
}

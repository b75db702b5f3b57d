package store

import (
	"context"
	"sync"
	"time"

	"github.com/clinicbr/go-tiss-client/tiss"
	"github.com/clinicbr/go-tiss-client/tiss/model"
	"github.com/clinicbr/go-tiss-client/tiss/mutex"
)

// MemoryStore é a implementação em memória do Store, usada nos testes e no
// exemplo. A escrita condicional é serializada por documento com um RWMutex
// por chave.
type MemoryStore struct {
	locks mutex.KeyedRWMutex[string]

	mu     sync.RWMutex
	guias  map[string]*model.Guia
	lotes  map[string]*model.Lote
	glosas map[string][]*model.Glosa
	audits map[string][]*model.AuditRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		guias:  make(map[string]*model.Guia),
		lotes:  make(map[string]*model.Lote),
		glosas: make(map[string][]*model.Glosa),
		audits: make(map[string][]*model.AuditRecord),
	}
}

func key(ctx context.Context, id string) (string, error) {
	clinic, ok := tiss.ClinicFromContext(ctx)
	if !ok || clinic == "" {
		return "", tiss.ErrNoClinic
	}
	return clinic + "/" + id, nil
}

func cloneGuia(g *model.Guia) *model.Guia {
	c := *g
	c.Procedimentos = append([]model.Procedimento(nil), g.Procedimentos...)
	return &c
}

func cloneLote(l *model.Lote) *model.Lote {
	c := *l
	c.Guias = append([]string(nil), l.Guias...)
	return &c
}

func cloneGlosa(g *model.Glosa) *model.Glosa {
	c := *g
	c.Itens = append([]model.ItemGlosado(nil), g.Itens...)
	return &c
}

func (s *MemoryStore) SaveGuia(ctx context.Context, g *model.Guia) error {
	k, err := key(ctx, g.Numero)
	if err != nil {
		return err
	}

	s.locks.Lock(k)
	defer s.locks.Unlock(k)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.guias[k]; exists {
		return ErrDuplicate
	}
	s.guias[k] = cloneGuia(g)
	return nil
}

func (s *MemoryStore) GetGuia(ctx context.Context, numero string) (*model.Guia, error) {
	k, err := key(ctx, numero)
	if err != nil {
		return nil, err
	}

	s.locks.RLock(k)
	defer s.locks.RUnlock(k)

	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.guias[k]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneGuia(g), nil
}

func (s *MemoryStore) UpdateGuia(ctx context.Context, g *model.Guia, expectedStatus model.GuiaStatus, expectedVersion int64) error {
	k, err := key(ctx, g.Numero)
	if err != nil {
		return err
	}

	s.locks.Lock(k)
	defer s.locks.Unlock(k)

	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.guias[k]
	if !ok {
		return ErrNotFound
	}
	if cur.Status != expectedStatus || cur.Version != expectedVersion {
		return ErrConflict
	}

	g.Version = expectedVersion + 1
	s.guias[k] = cloneGuia(g)
	return nil
}

func (s *MemoryStore) GuiasByStatus(ctx context.Context, status model.GuiaStatus) ([]*model.Guia, error) {
	return s.filterGuias(ctx, func(g *model.Guia) bool { return g.Status == status })
}

func (s *MemoryStore) GuiasByPeriod(ctx context.Context, from, to time.Time) ([]*model.Guia, error) {
	return s.filterGuias(ctx, func(g *model.Guia) bool {
		return !g.DataAtendim.Before(from) && !g.DataAtendim.After(to)
	})
}

func (s *MemoryStore) GuiasByPatient(ctx context.Context, numeroCarteira string) ([]*model.Guia, error) {
	return s.filterGuias(ctx, func(g *model.Guia) bool {
		return g.Beneficiario.NumeroCarteira == numeroCarteira
	})
}

func (s *MemoryStore) filterGuias(ctx context.Context, keep func(*model.Guia) bool) ([]*model.Guia, error) {
	clinic, ok := tiss.ClinicFromContext(ctx)
	if !ok || clinic == "" {
		return nil, tiss.ErrNoClinic
	}
	prefix := clinic + "/"

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*model.Guia
	for k, g := range s.guias {
		if len(k) > len(prefix) && k[:len(prefix)] == prefix && keep(g) {
			out = append(out, cloneGuia(g))
		}
	}
	return out, nil
}

func (s *MemoryStore) SaveLote(ctx context.Context, l *model.Lote) error {
	k, err := key(ctx, l.ID)
	if err != nil {
		return err
	}

	s.locks.Lock(k)
	defer s.locks.Unlock(k)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.lotes[k]; exists {
		return ErrDuplicate
	}
	s.lotes[k] = cloneLote(l)
	return nil
}

func (s *MemoryStore) GetLote(ctx context.Context, id string) (*model.Lote, error) {
	k, err := key(ctx, id)
	if err != nil {
		return nil, err
	}

	s.locks.RLock(k)
	defer s.locks.RUnlock(k)

	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.lotes[k]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneLote(l), nil
}

func (s *MemoryStore) UpdateLote(ctx context.Context, l *model.Lote, expectedStatus model.LoteStatus, expectedVersion int64) error {
	k, err := key(ctx, l.ID)
	if err != nil {
		return err
	}

	s.locks.Lock(k)
	defer s.locks.Unlock(k)

	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.lotes[k]
	if !ok {
		return ErrNotFound
	}
	if cur.Status != expectedStatus || cur.Version != expectedVersion {
		return ErrConflict
	}

	l.Version = expectedVersion + 1
	s.lotes[k] = cloneLote(l)
	return nil
}

func (s *MemoryStore) SaveGlosa(ctx context.Context, g *model.Glosa) error {
	k, err := key(ctx, g.NumeroGuia)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.glosas[k] = append(s.glosas[k], cloneGlosa(g))
	return nil
}

func (s *MemoryStore) GlosasByGuia(ctx context.Context, numeroGuia string) ([]*model.Glosa, error) {
	k, err := key(ctx, numeroGuia)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*model.Glosa, 0, len(s.glosas[k]))
	for _, g := range s.glosas[k] {
		out = append(out, cloneGlosa(g))
	}
	return out, nil
}

func (s *MemoryStore) AppendAudit(ctx context.Context, rec *model.AuditRecord) error {
	k, err := key(ctx, rec.NumeroGuia)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *rec
	s.audits[k] = append(s.audits[k], &cp)
	return nil
}

func (s *MemoryStore) AuditTrail(ctx context.Context, numeroGuia string) ([]*model.AuditRecord, error) {
	k, err := key(ctx, numeroGuia)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*model.AuditRecord, 0, len(s.audits[k]))
	for _, rec := range s.audits[k] {
		cp := *rec
		out = append(out, &cp)
	}
	return out, nil
}

var _ Store = (*MemoryStore)(nil)

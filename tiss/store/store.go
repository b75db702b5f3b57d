// Package store define o contrato do armazenamento de documentos do
// faturamento TISS. Os registros são particionados por clínica (o id vem do
// contexto) e as transições de status usam escrita condicional: a escrita só
// se aplica se o status e a versão observados conferem com o esperado, o que
// impede updates perdidos sob montagens de lote concorrentes.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/clinicbr/go-tiss-client/tiss/model"
)

var (
	// ErrConflict indica que o documento mudou desde a leitura (o status ou
	// a versão esperados não conferem). O chamador deve reler e decidir.
	ErrConflict = errors.New("conditional write conflict")

	ErrNotFound = errors.New("document not found")

	// ErrDuplicate indica tentativa de criar documento com chave já usada.
	ErrDuplicate = errors.New("document already exists")
)

// Store é o colaborador de persistência do subsistema TISS.
type Store interface {
	// Guias
	SaveGuia(ctx context.Context, g *model.Guia) error
	GetGuia(ctx context.Context, numero string) (*model.Guia, error)

	// UpdateGuia grava g apenas se o documento persistido ainda estiver em
	// (expectedStatus, expectedVersion); incrementa g.Version em caso de
	// sucesso e devolve ErrConflict caso contrário.
	UpdateGuia(ctx context.Context, g *model.Guia, expectedStatus model.GuiaStatus, expectedVersion int64) error

	GuiasByStatus(ctx context.Context, status model.GuiaStatus) ([]*model.Guia, error)
	GuiasByPeriod(ctx context.Context, from, to time.Time) ([]*model.Guia, error)
	GuiasByPatient(ctx context.Context, numeroCarteira string) ([]*model.Guia, error)

	// Lotes
	SaveLote(ctx context.Context, l *model.Lote) error
	GetLote(ctx context.Context, id string) (*model.Lote, error)
	UpdateLote(ctx context.Context, l *model.Lote, expectedStatus model.LoteStatus, expectedVersion int64) error

	// Glosas
	SaveGlosa(ctx context.Context, g *model.Glosa) error
	GlosasByGuia(ctx context.Context, numeroGuia string) ([]*model.Glosa, error)

	// Auditoria (somente inserção; registros nunca são alterados)
	AppendAudit(ctx context.Context, rec *model.AuditRecord) error
	AuditTrail(ctx context.Context, numeroGuia string) ([]*model.AuditRecord, error)
}

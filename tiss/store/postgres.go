package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicbr/go-tiss-client/tiss"
	"github.com/clinicbr/go-tiss-client/tiss/model"
)

// Migration é o DDL das tabelas do subsistema TISS. Idempotente (IF NOT
// EXISTS); pode ser executado a cada inicialização como auto-migração.
const Migration = `
CREATE TABLE IF NOT EXISTS tiss_guias (
    clinic_id    TEXT NOT NULL,
    numero       TEXT NOT NULL,
    status       TEXT NOT NULL,
    version      BIGINT NOT NULL DEFAULT 0,
    patient_card TEXT NOT NULL,
    service_date TIMESTAMPTZ NOT NULL,
    doc          JSONB NOT NULL,
    PRIMARY KEY (clinic_id, numero)
);

CREATE INDEX IF NOT EXISTS idx_tiss_guias_status
    ON tiss_guias (clinic_id, status);
CREATE INDEX IF NOT EXISTS idx_tiss_guias_patient
    ON tiss_guias (clinic_id, patient_card);
CREATE INDEX IF NOT EXISTS idx_tiss_guias_service_date
    ON tiss_guias (clinic_id, service_date);

CREATE TABLE IF NOT EXISTS tiss_lotes (
    clinic_id TEXT NOT NULL,
    id        TEXT NOT NULL,
    status    TEXT NOT NULL,
    version   BIGINT NOT NULL DEFAULT 0,
    doc       JSONB NOT NULL,
    PRIMARY KEY (clinic_id, id)
);

CREATE TABLE IF NOT EXISTS tiss_glosas (
    clinic_id   TEXT NOT NULL,
    numero_guia TEXT NOT NULL,
    received_at TIMESTAMPTZ NOT NULL,
    doc         JSONB NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_tiss_glosas_guia
    ON tiss_glosas (clinic_id, numero_guia);

CREATE TABLE IF NOT EXISTS tiss_audit (
    id          TEXT PRIMARY KEY,
    clinic_id   TEXT NOT NULL,
    numero_guia TEXT NOT NULL,
    doc         JSONB NOT NULL,
    created_at  TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_tiss_audit_guia
    ON tiss_audit (clinic_id, numero_guia, created_at);
`

// pgRow e pgConn isolam o mínimo de pgx necessário, permitindo testes de
// unidade sem banco real (mesma abordagem dos stores PG do restante da
// plataforma).
type pgRow interface {
	Scan(dest ...any) error
}

type pgRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close()
}

type pgConn interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgRow
	Query(ctx context.Context, sql string, args ...any) (pgRows, error)
	Exec(ctx context.Context, sql string, args ...any) (int64, error)
}

type poolConn struct {
	pool *pgxpool.Pool
}

func (p poolConn) QueryRow(ctx context.Context, sql string, args ...any) pgRow {
	return p.pool.QueryRow(ctx, sql, args...)
}

func (p poolConn) Query(ctx context.Context, sql string, args ...any) (pgRows, error) {
	rows, err := p.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (p poolConn) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	tag, err := p.pool.Exec(ctx, sql, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// PGStore é a implementação PostgreSQL do Store. Os documentos são gravados
// como JSONB; status e version ficam em colunas próprias para a escrita
// condicional (UPDATE ... WHERE status = esperado AND version = esperada).
type PGStore struct {
	db pgConn
}

func NewPGStore(db pgConn) *PGStore {
	return &PGStore{db: db}
}

func NewPGStoreFromPool(pool *pgxpool.Pool) *PGStore {
	return &PGStore{db: poolConn{pool: pool}}
}

func clinicFrom(ctx context.Context) (string, error) {
	clinic, ok := tiss.ClinicFromContext(ctx)
	if !ok || clinic == "" {
		return "", tiss.ErrNoClinic
	}
	return clinic, nil
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

func (s *PGStore) SaveGuia(ctx context.Context, g *model.Guia) error {
	clinic, err := clinicFrom(ctx)
	if err != nil {
		return err
	}
	doc, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("marshal guia: %w", err)
	}

	const query = `INSERT INTO tiss_guias (clinic_id, numero, status, version, patient_card, service_date, doc)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (clinic_id, numero) DO NOTHING`

	n, err := s.db.Exec(ctx, query, clinic, g.Numero, g.Status, g.Version,
		g.Beneficiario.NumeroCarteira, g.DataAtendim, doc)
	if err != nil {
		return fmt.Errorf("save guia: %w", err)
	}
	if n == 0 {
		return ErrDuplicate
	}
	return nil
}

func (s *PGStore) GetGuia(ctx context.Context, numero string) (*model.Guia, error) {
	clinic, err := clinicFrom(ctx)
	if err != nil {
		return nil, err
	}

	const query = `SELECT doc FROM tiss_guias WHERE clinic_id = $1 AND numero = $2`

	var data []byte
	if err := s.db.QueryRow(ctx, query, clinic, numero).Scan(&data); err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get guia: %w", err)
	}

	var g model.Guia
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("unmarshal guia: %w", err)
	}
	return &g, nil
}

func (s *PGStore) UpdateGuia(ctx context.Context, g *model.Guia, expectedStatus model.GuiaStatus, expectedVersion int64) error {
	clinic, err := clinicFrom(ctx)
	if err != nil {
		return err
	}

	g.Version = expectedVersion + 1
	doc, err := json.Marshal(g)
	if err != nil {
		g.Version = expectedVersion
		return fmt.Errorf("marshal guia: %w", err)
	}

	const query = `UPDATE tiss_guias
SET status = $1, version = $2, doc = $3
WHERE clinic_id = $4 AND numero = $5 AND status = $6 AND version = $7`

	n, err := s.db.Exec(ctx, query, g.Status, g.Version, doc,
		clinic, g.Numero, expectedStatus, expectedVersion)
	if err != nil {
		g.Version = expectedVersion
		return fmt.Errorf("update guia: %w", err)
	}
	if n == 0 {
		g.Version = expectedVersion
		if _, getErr := s.GetGuia(ctx, g.Numero); errors.Is(getErr, ErrNotFound) {
			return ErrNotFound
		}
		return ErrConflict
	}
	return nil
}

func (s *PGStore) GuiasByStatus(ctx context.Context, status model.GuiaStatus) ([]*model.Guia, error) {
	const query = `SELECT doc FROM tiss_guias WHERE clinic_id = $1 AND status = $2 ORDER BY numero`
	return s.queryGuias(ctx, query, status)
}

func (s *PGStore) GuiasByPeriod(ctx context.Context, from, to time.Time) ([]*model.Guia, error) {
	const query = `SELECT doc FROM tiss_guias
WHERE clinic_id = $1 AND service_date >= $2 AND service_date <= $3 ORDER BY service_date`
	return s.queryGuias(ctx, query, from, to)
}

func (s *PGStore) GuiasByPatient(ctx context.Context, numeroCarteira string) ([]*model.Guia, error) {
	const query = `SELECT doc FROM tiss_guias WHERE clinic_id = $1 AND patient_card = $2 ORDER BY numero`
	return s.queryGuias(ctx, query, numeroCarteira)
}

func (s *PGStore) queryGuias(ctx context.Context, query string, args ...any) ([]*model.Guia, error) {
	clinic, err := clinicFrom(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(ctx, query, append([]any{clinic}, args...)...)
	if err != nil {
		return nil, fmt.Errorf("query guias: %w", err)
	}
	defer rows.Close()

	var out []*model.Guia
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan guia: %w", err)
		}
		var g model.Guia
		if err := json.Unmarshal(data, &g); err != nil {
			return nil, fmt.Errorf("unmarshal guia: %w", err)
		}
		out = append(out, &g)
	}
	return out, rows.Err()
}

func (s *PGStore) SaveLote(ctx context.Context, l *model.Lote) error {
	clinic, err := clinicFrom(ctx)
	if err != nil {
		return err
	}
	doc, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("marshal lote: %w", err)
	}

	const query = `INSERT INTO tiss_lotes (clinic_id, id, status, version, doc)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (clinic_id, id) DO NOTHING`

	n, err := s.db.Exec(ctx, query, clinic, l.ID, l.Status, l.Version, doc)
	if err != nil {
		return fmt.Errorf("save lote: %w", err)
	}
	if n == 0 {
		return ErrDuplicate
	}
	return nil
}

func (s *PGStore) GetLote(ctx context.Context, id string) (*model.Lote, error) {
	clinic, err := clinicFrom(ctx)
	if err != nil {
		return nil, err
	}

	const query = `SELECT doc FROM tiss_lotes WHERE clinic_id = $1 AND id = $2`

	var data []byte
	if err := s.db.QueryRow(ctx, query, clinic, id).Scan(&data); err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get lote: %w", err)
	}

	var l model.Lote
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("unmarshal lote: %w", err)
	}
	return &l, nil
}

func (s *PGStore) UpdateLote(ctx context.Context, l *model.Lote, expectedStatus model.LoteStatus, expectedVersion int64) error {
	clinic, err := clinicFrom(ctx)
	if err != nil {
		return err
	}

	l.Version = expectedVersion + 1
	doc, err := json.Marshal(l)
	if err != nil {
		l.Version = expectedVersion
		return fmt.Errorf("marshal lote: %w", err)
	}

	const query = `UPDATE tiss_lotes
SET status = $1, version = $2, doc = $3
WHERE clinic_id = $4 AND id = $5 AND status = $6 AND version = $7`

	n, err := s.db.Exec(ctx, query, l.Status, l.Version, doc,
		clinic, l.ID, expectedStatus, expectedVersion)
	if err != nil {
		l.Version = expectedVersion
		return fmt.Errorf("update lote: %w", err)
	}
	if n == 0 {
		l.Version = expectedVersion
		if _, getErr := s.GetLote(ctx, l.ID); errors.Is(getErr, ErrNotFound) {
			return ErrNotFound
		}
		return ErrConflict
	}
	return nil
}

func (s *PGStore) SaveGlosa(ctx context.Context, g *model.Glosa) error {
	clinic, err := clinicFrom(ctx)
	if err != nil {
		return err
	}
	doc, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("marshal glosa: %w", err)
	}

	const query = `INSERT INTO tiss_glosas (clinic_id, numero_guia, received_at, doc)
VALUES ($1, $2, $3, $4)`

	if _, err := s.db.Exec(ctx, query, clinic, g.NumeroGuia, g.DataRecebimento, doc); err != nil {
		return fmt.Errorf("save glosa: %w", err)
	}
	return nil
}

func (s *PGStore) GlosasByGuia(ctx context.Context, numeroGuia string) ([]*model.Glosa, error) {
	clinic, err := clinicFrom(ctx)
	if err != nil {
		return nil, err
	}

	const query = `SELECT doc FROM tiss_glosas
WHERE clinic_id = $1 AND numero_guia = $2 ORDER BY received_at`

	rows, err := s.db.Query(ctx, query, clinic, numeroGuia)
	if err != nil {
		return nil, fmt.Errorf("query glosas: %w", err)
	}
	defer rows.Close()

	var out []*model.Glosa
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan glosa: %w", err)
		}
		var g model.Glosa
		if err := json.Unmarshal(data, &g); err != nil {
			return nil, fmt.Errorf("unmarshal glosa: %w", err)
		}
		out = append(out, &g)
	}
	return out, rows.Err()
}

func (s *PGStore) AppendAudit(ctx context.Context, rec *model.AuditRecord) error {
	clinic, err := clinicFrom(ctx)
	if err != nil {
		return err
	}
	doc, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal audit record: %w", err)
	}

	const query = `INSERT INTO tiss_audit (id, clinic_id, numero_guia, doc, created_at)
VALUES ($1, $2, $3, $4, $5)`

	if _, err := s.db.Exec(ctx, query, rec.ID, clinic, rec.NumeroGuia, doc, rec.Timestamp); err != nil {
		return fmt.Errorf("append audit record: %w", err)
	}
	return nil
}

func (s *PGStore) AuditTrail(ctx context.Context, numeroGuia string) ([]*model.AuditRecord, error) {
	clinic, err := clinicFrom(ctx)
	if err != nil {
		return nil, err
	}

	const query = `SELECT doc FROM tiss_audit
WHERE clinic_id = $1 AND numero_guia = $2 ORDER BY created_at`

	rows, err := s.db.Query(ctx, query, clinic, numeroGuia)
	if err != nil {
		return nil, fmt.Errorf("query audit trail: %w", err)
	}
	defer rows.Close()

	var out []*model.AuditRecord
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		var rec model.AuditRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("unmarshal audit record: %w", err)
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

var _ Store = (*PGStore)(nil)

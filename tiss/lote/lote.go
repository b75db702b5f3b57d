// Package lote agrupa guias enfileiradas da mesma operadora em um lote,
// monta e assina o envelope XML do lote e conduz o envio ao canal da
// operadora com retry limitado. O envio é idempotente por lote: a retentativa
// reutiliza o mesmo número de transação e só é permitida enquanto a operadora
// não deu resposta definitiva.
package lote

import (
	"context"
	"errors"
	"time"

	"github.com/beevik/etree"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/clinicbr/go-tiss-client/tiss"
	"github.com/clinicbr/go-tiss-client/tiss/api"
	"github.com/clinicbr/go-tiss-client/tiss/cert"
	"github.com/clinicbr/go-tiss-client/tiss/guia"
	"github.com/clinicbr/go-tiss-client/tiss/model"
	"github.com/clinicbr/go-tiss-client/tiss/sign"
	"github.com/clinicbr/go-tiss-client/tiss/store"
	"github.com/clinicbr/go-tiss-client/tiss/xmlgen"
)

var logger = logrus.WithField("component", "tiss.lote")

var (
	// ErrLoteJaAceito impede reenvio de lote já aceito pela operadora.
	ErrLoteJaAceito = errors.New("lote já aceito pela operadora, reenvio não permitido")

	// ErrLoteFalhou indica lote com rejeição definitiva; descartar e
	// remontar.
	ErrLoteFalhou = errors.New("lote com rejeição definitiva, monte um novo lote")

	// ErrGuiaJaEmLote indica guia já reivindicada por outro lote aberto.
	ErrGuiaJaEmLote = errors.New("guia já pertence a um lote aberto")

	// ErrOperadoraDivergente indica mistura de operadoras no mesmo lote.
	ErrOperadoraDivergente = errors.New("todas as guias do lote devem ser da mesma operadora")
)

// OperadoraDirectory resolve os dados cadastrais da operadora (endpoint de
// recepção incluído). Dado de referência imutável, mantido pela configuração
// da clínica.
type OperadoraDirectory interface {
	Get(ctx context.Context, registroANS string) (*model.Operadora, error)
}

// StaticDirectory é um OperadoraDirectory de mapa fixo.
type StaticDirectory map[string]model.Operadora

func (d StaticDirectory) Get(_ context.Context, registroANS string) (*model.Operadora, error) {
	op, ok := d[registroANS]
	if !ok {
		return nil, errors.New("operadora não cadastrada: " + registroANS)
	}
	return &op, nil
}

// GuiaResult é o desfecho por guia de um envio de lote.
type GuiaResult struct {
	Numero string           `json:"numero"`
	Status model.GuiaStatus `json:"status"`
}

// SubmitResult é o desfecho do envio do lote.
type SubmitResult struct {
	Status    model.LoteStatus `json:"status"`
	Protocolo string           `json:"protocolo,omitempty"`
	PerGuia   []GuiaResult     `json:"perGuia"`
}

// Manager conduz a montagem e o envio de lotes.
type Manager struct {
	store       store.Store
	guias       *guia.Manager
	certs       *cert.Store
	client      api.Client
	operadoras  OperadoraDirectory
	clock       clockwork.Clock
	maxAttempts int
	backoffBase time.Duration
}

// Option configura o Manager.
type Option func(*Manager)

// WithMaxAttempts limita as retentativas de transporte (mínimo 1).
func WithMaxAttempts(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxAttempts = n
		}
	}
}

// WithBackoff define o intervalo base entre retentativas (dobra a cada uma).
func WithBackoff(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.backoffBase = d
		}
	}
}

func NewManager(st store.Store, guias *guia.Manager, certs *cert.Store, client api.Client,
	operadoras OperadoraDirectory, clock clockwork.Clock, opts ...Option) *Manager {

	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	m := &Manager{
		store:       st,
		guias:       guias,
		certs:       certs,
		client:      client,
		operadoras:  operadoras,
		clock:       clock,
		maxAttempts: 3,
		backoffBase: 2 * time.Second,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Build agrupa guias enfileiradas da operadora em um novo lote. Cada guia é
// reivindicada com escrita condicional: duas montagens concorrentes nunca
// levam a mesma guia (a perdedora recebe conflito e deve remontar).
func (m *Manager) Build(ctx context.Context, registroANS string, numeros []string) (*model.Lote, error) {
	if len(numeros) == 0 {
		return nil, errors.New("lote sem guias")
	}

	l := &model.Lote{
		ID:              uuid.NewString(),
		NumeroTransacao: uuid.NewString(),
		RegistroANS:     registroANS,
		Status:          model.LoteOpen,
		CriadoEm:        m.clock.Now(),
	}

	guias := make([]*model.Guia, 0, len(numeros))
	for _, numero := range numeros {
		g, err := m.store.GetGuia(ctx, numero)
		if err != nil {
			return nil, err
		}
		if g.RegistroANS != registroANS {
			return nil, ErrOperadoraDivergente
		}
		if g.Status != model.StatusQueued {
			return nil, guia.ErrInvalidTransition
		}
		if g.LoteID != "" {
			return nil, ErrGuiaJaEmLote
		}
		guias = append(guias, g)
	}

	if err := m.store.SaveLote(ctx, l); err != nil {
		return nil, err
	}

	claimed := make([]*model.Guia, 0, len(guias))
	for _, g := range guias {
		g.LoteID = l.ID
		if err := m.store.UpdateGuia(ctx, g, model.StatusQueued, g.Version); err != nil {
			// outra montagem chegou primeiro; devolve as já reivindicadas
			m.release(ctx, claimed)
			if errors.Is(err, store.ErrConflict) {
				return nil, ErrGuiaJaEmLote
			}
			return nil, err
		}
		claimed = append(claimed, g)
		l.Guias = append(l.Guias, g.Numero)
		l.ValorTotal += g.ValorTotal
	}

	if err := m.store.UpdateLote(ctx, l, model.LoteOpen, l.Version); err != nil {
		m.release(ctx, claimed)
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"lote":  l.ID,
		"guias": len(l.Guias),
	}).Info("lote montado")

	return l, nil
}

// release devolve guias reivindicadas ao estado livre (melhor esforço).
func (m *Manager) release(ctx context.Context, guias []*model.Guia) {
	for _, g := range guias {
		g.LoteID = ""
		if err := m.store.UpdateGuia(ctx, g, model.StatusQueued, g.Version); err != nil {
			logger.WithField("guia", g.Numero).WithError(err).
				Warn("não foi possível liberar a guia após falha na montagem do lote")
		}
	}
}

// Submit monta e assina o envelope do lote e o envia à operadora. Falha de
// transporte é retentada com backoff até o limite; rejeição da operadora é
// definitiva (lote failed, guias permanecem queued). No aceite, as guias
// transitam queued→sent junto com o lote→accepted.
func (m *Manager) Submit(ctx context.Context, loteID string, p12 []byte, password string) (*SubmitResult, error) {
	l, err := m.store.GetLote(ctx, loteID)
	if err != nil {
		return nil, err
	}
	switch l.Status {
	case model.LoteAccepted:
		return nil, ErrLoteJaAceito
	case model.LoteFailed:
		return nil, ErrLoteFalhou
	}

	op, err := m.operadoras.Get(ctx, l.RegistroANS)
	if err != nil {
		return nil, err
	}

	guias := make([]*model.Guia, 0, len(l.Guias))
	for _, numero := range l.Guias {
		g, err := m.store.GetGuia(ctx, numero)
		if err != nil {
			return nil, err
		}
		guias = append(guias, g)
	}

	version, ok := tiss.VersionFromContext(ctx)
	if !ok {
		version = tiss.V305
	}

	xml, err := xmlgen.BuildLoteXML(l, guias, version, m.clock.Now())
	if err != nil {
		return nil, err
	}

	crt, err := m.certs.Load(ctx, p12, password)
	if err != nil {
		return nil, err
	}
	if err := crt.Valid(m.clock.Now()); err != nil {
		return nil, err
	}

	signed, err := sign.SignWithCertificate([]byte(xml), crt)
	if err != nil {
		return nil, err
	}
	l.XMLAssinado = signed

	resp, err := m.send(ctx, l, op.Endpoint, []byte(signed))
	if err != nil {
		return nil, err
	}

	l.ProtocoloRemoto = extractProtocol(resp.Body)
	l.Status = model.LoteAccepted
	if err := m.store.UpdateLote(ctx, l, model.LoteOpen, l.Version); err != nil {
		return nil, err
	}

	if err := m.guias.CompleteLoteSubmission(ctx, l.ID, l.Guias); err != nil {
		return nil, err
	}

	result := &SubmitResult{Status: model.LoteAccepted, Protocolo: l.ProtocoloRemoto}
	for _, numero := range l.Guias {
		result.PerGuia = append(result.PerGuia, GuiaResult{Numero: numero, Status: model.StatusSent})
	}

	logger.WithFields(logrus.Fields{
		"lote":      l.ID,
		"protocolo": l.ProtocoloRemoto,
	}).Info("lote aceito pela operadora")

	return result, nil
}

// send executa as tentativas de envio. O mesmo número de transação é usado em
// todas: a operadora deduplica, então a retentativa nunca cria envio remoto
// duplicado.
func (m *Manager) send(ctx context.Context, l *model.Lote, endpoint string, body []byte) (*api.OperatorResponse, error) {
	var lastErr error

	for attempt := 1; attempt <= m.maxAttempts; attempt++ {
		l.SendAttemptCount++

		resp, err := m.client.PostTISSXML(ctx, endpoint, body)
		if err == nil {
			l.LastError = ""
			return resp, nil
		}

		lastErr = err
		l.LastError = err.Error()

		var reqErr *api.RequestError
		if errors.As(err, &reqErr) {
			// resposta definitiva da operadora: terminal, exige correção
			m.failTerminal(ctx, l)
			return nil, &tiss.SubmissionError{
				Retryable:  false,
				Attempt:    l.SendAttemptCount,
				StatusCode: reqErr.StatusCode,
				Err:        err,
			}
		}

		// transporte: persiste o contador e tenta de novo com backoff
		if uerr := m.store.UpdateLote(ctx, l, model.LoteOpen, l.Version); uerr != nil {
			return nil, uerr
		}

		logger.WithFields(logrus.Fields{
			"lote":      l.ID,
			"tentativa": l.SendAttemptCount,
		}).WithError(err).Warn("falha de transporte no envio do lote")

		if attempt < m.maxAttempts {
			m.clock.Sleep(m.backoffBase << (attempt - 1))
		}
	}

	return nil, &tiss.SubmissionError{
		Retryable: true,
		Attempt:   l.SendAttemptCount,
		Err:       lastErr,
	}
}

// failTerminal marca o lote como failed e libera as guias (permanecem
// queued, prontas para um novo lote).
func (m *Manager) failTerminal(ctx context.Context, l *model.Lote) {
	l.Status = model.LoteFailed
	if err := m.store.UpdateLote(ctx, l, model.LoteOpen, l.Version); err != nil {
		logger.WithField("lote", l.ID).WithError(err).Error("não foi possível marcar o lote como failed")
		return
	}

	for _, numero := range l.Guias {
		g, err := m.store.GetGuia(ctx, numero)
		if err != nil {
			continue
		}
		g.LoteID = ""
		if err := m.store.UpdateGuia(ctx, g, model.StatusQueued, g.Version); err != nil {
			logger.WithField("guia", numero).WithError(err).
				Warn("não foi possível liberar a guia do lote rejeitado")
		}
	}
}

// extractProtocol procura o número de protocolo na resposta de aceite.
func extractProtocol(body []byte) string {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(body); err != nil || doc.Root() == nil {
		return ""
	}
	for _, tag := range []string{"protocoloRecebimento", "numeroProtocolo", "protocolo"} {
		if el := doc.Root().FindElement("//" + tag); el != nil {
			return el.Text()
		}
	}
	return ""
}

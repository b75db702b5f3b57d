// Package guia implementa o ciclo de vida da guia de cobrança:
//
//	draft → generated → signed → queued → sent → {settled|denied|contested} → resolved
//
// Toda transição é uma escrita condicional (status e versão esperados) e gera
// um registro de auditoria imutável. A transição queued→sent é reservada ao
// envio de lote; não existe caminho direto.
package guia

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/clinicbr/go-tiss-client/tiss"
	"github.com/clinicbr/go-tiss-client/tiss/cert"
	"github.com/clinicbr/go-tiss-client/tiss/glosa"
	"github.com/clinicbr/go-tiss-client/tiss/model"
	"github.com/clinicbr/go-tiss-client/tiss/sign"
	"github.com/clinicbr/go-tiss-client/tiss/store"
	"github.com/clinicbr/go-tiss-client/tiss/xmlgen"
)

var logger = logrus.WithField("component", "tiss.guia")

var (
	// ErrInvalidTransition indica transição fora da máquina de estados.
	ErrInvalidTransition = errors.New("transição de status inválida")

	// ErrSentOutsideLote indica tentativa de marcar a guia como enviada fora
	// do envio de lote.
	ErrSentOutsideLote = errors.New("guia só transita para sent como parte do envio de um lote")

	// ErrGuiaImutavel indica tentativa de alterar itens de uma guia já
	// enviada; correções exigem nova guia ou ajuste via glosa.
	ErrGuiaImutavel = errors.New("itens da guia são imutáveis após o envio")
)

// transitions é a tabela da máquina de estados. queued→sent aparece aqui,
// mas é aplicada apenas por CompleteLoteSubmission.
var transitions = map[model.GuiaStatus][]model.GuiaStatus{
	model.StatusDraft:     {model.StatusGenerated},
	model.StatusGenerated: {model.StatusSigned},
	model.StatusSigned:    {model.StatusQueued},
	model.StatusQueued:    {model.StatusSent},
	model.StatusSent:      {model.StatusSettled, model.StatusDenied, model.StatusContested},
	model.StatusDenied:    {model.StatusContested},
	model.StatusContested: {model.StatusResolved},
}

func canTransition(from, to model.GuiaStatus) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// Manager orquestra o ciclo de vida da guia sobre o armazenamento de
// documentos e a fronteira de certificados.
type Manager struct {
	store store.Store
	certs *cert.Store
	clock clockwork.Clock
}

func NewManager(st store.Store, certs *cert.Store, clock clockwork.Clock) *Manager {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Manager{store: st, certs: certs, clock: clock}
}

// Create registra uma nova guia em rascunho. O total é recalculado a partir
// dos itens, nunca aceito da entrada.
func (m *Manager) Create(ctx context.Context, g *model.Guia) error {
	g.Status = model.StatusDraft
	g.ValorTotal = g.ComputeTotal()
	g.Version = 0
	now := m.clock.Now()
	g.CriadaEm = now
	g.AtualizadaEm = now

	if err := m.store.SaveGuia(ctx, g); err != nil {
		return err
	}
	return m.audit(ctx, g.Numero, "", model.StatusDraft)
}

// GenerateXML valida os campos obrigatórios, monta o XML TISS e aplica
// draft→generated.
func (m *Manager) GenerateXML(ctx context.Context, numero string, v tiss.Version) (*model.Guia, error) {
	g, err := m.store.GetGuia(ctx, numero)
	if err != nil {
		return nil, err
	}
	if !canTransition(g.Status, model.StatusGenerated) {
		return nil, ErrInvalidTransition
	}

	if missing := mandatoryFields(g); len(missing) > 0 {
		return nil, &tiss.ValidationError{Fields: missing}
	}

	xml, err := xmlgen.BuildGuiaXML(g, v)
	if err != nil {
		return nil, err
	}

	g.XML = xml
	return m.apply(ctx, g, model.StatusGenerated)
}

// SignGuia exige certificado válido e não expirado e aplica generated→signed.
// O contêiner e a senha não sobrevivem à chamada.
func (m *Manager) SignGuia(ctx context.Context, numero string, p12 []byte, password string) (*model.Guia, error) {
	g, err := m.store.GetGuia(ctx, numero)
	if err != nil {
		return nil, err
	}
	if !canTransition(g.Status, model.StatusSigned) {
		return nil, ErrInvalidTransition
	}

	crt, err := m.certs.Load(ctx, p12, password)
	if err != nil {
		return nil, err
	}
	if err := crt.Valid(m.clock.Now()); err != nil {
		return nil, err
	}

	signed, err := sign.SignWithCertificate([]byte(g.XML), crt)
	if err != nil {
		return nil, err
	}
	digest, err := sign.Hash([]byte(signed))
	if err != nil {
		return nil, err
	}

	g.XMLAssinado = signed
	g.DigestAssinado = digest
	return m.apply(ctx, g, model.StatusSigned)
}

// Enqueue torna a guia elegível para lote (signed→queued). Não há trava
// manual além da assinatura válida.
func (m *Manager) Enqueue(ctx context.Context, numero string) (*model.Guia, error) {
	g, err := m.store.GetGuia(ctx, numero)
	if err != nil {
		return nil, err
	}
	if !canTransition(g.Status, model.StatusQueued) {
		return nil, ErrInvalidTransition
	}
	return m.apply(ctx, g, model.StatusQueued)
}

// Transition é o caminho genérico para as transições de encerramento.
// Rejeita queued→sent: essa transição pertence ao envio de lote.
func (m *Manager) Transition(ctx context.Context, numero string, to model.GuiaStatus) (*model.Guia, error) {
	g, err := m.store.GetGuia(ctx, numero)
	if err != nil {
		return nil, err
	}

	if to == model.StatusSent {
		return nil, ErrSentOutsideLote
	}
	if !canTransition(g.Status, to) {
		return nil, ErrInvalidTransition
	}
	return m.apply(ctx, g, to)
}

// CompleteLoteSubmission aplica queued→sent às guias de um lote aceito. É a
// única porta para o status sent; valida que o lote existe, foi aceito e
// referencia cada guia.
func (m *Manager) CompleteLoteSubmission(ctx context.Context, loteID string, numeros []string) error {
	l, err := m.store.GetLote(ctx, loteID)
	if err != nil {
		return err
	}
	if l.Status != model.LoteAccepted {
		return ErrSentOutsideLote
	}

	member := make(map[string]bool, len(l.Guias))
	for _, n := range l.Guias {
		member[n] = true
	}

	for _, numero := range numeros {
		if !member[numero] {
			return ErrSentOutsideLote
		}
		g, err := m.store.GetGuia(ctx, numero)
		if err != nil {
			return err
		}
		if g.Status == model.StatusSent && g.LoteID == loteID {
			// reenvio idempotente do mesmo lote
			continue
		}
		if g.Status != model.StatusQueued {
			return ErrInvalidTransition
		}
		g.LoteID = loteID
		if _, err := m.apply(ctx, g, model.StatusSent); err != nil {
			return err
		}
	}
	return nil
}

// RegisterGlosa vincula a resposta da operadora à guia: valor glosado
// positivo com aprovado menor que o original leva a denied; sem glosa leva a
// settled.
func (m *Manager) RegisterGlosa(ctx context.Context, gl *model.Glosa) (*model.Guia, error) {
	g, err := m.store.GetGuia(ctx, gl.NumeroGuia)
	if err != nil {
		return nil, err
	}

	target := model.StatusSettled
	if gl.ValorGlosado > 0 && gl.ValorAprovado() < gl.ValorOriginal {
		target = model.StatusDenied
	}
	if !canTransition(g.Status, target) {
		return nil, ErrInvalidTransition
	}

	if err := m.store.SaveGlosa(ctx, gl); err != nil {
		return nil, err
	}
	return m.apply(ctx, g, target)
}

// FileAppeal protocola recurso contra a glosa (denied→contested). Após o
// prazo de 30 dias devolve DeadlineExceededError: regra de negócio
// recuperável, registrada em log e devolvida ao chamador.
func (m *Manager) FileAppeal(ctx context.Context, gl *model.Glosa) (*model.Guia, error) {
	if !glosa.IsWithinAppealDeadline(gl, m.clock) {
		deadline := glosa.AppealDeadline(gl)
		logger.WithFields(logrus.Fields{
			"guia":  gl.NumeroGuia,
			"prazo": deadline,
		}).Warn("recurso de glosa fora do prazo")
		return nil, &tiss.DeadlineExceededError{Deadline: deadline}
	}

	g, err := m.store.GetGuia(ctx, gl.NumeroGuia)
	if err != nil {
		return nil, err
	}
	if !canTransition(g.Status, model.StatusContested) {
		return nil, ErrInvalidTransition
	}

	gl.Status = model.GlosaEmRecurso
	if err := m.store.SaveGlosa(ctx, gl); err != nil {
		return nil, err
	}
	return m.apply(ctx, g, model.StatusContested)
}

// Resolve encerra o ciclo após a decisão final da operadora
// (contested→resolved). A conciliação financeira é de um colaborador externo.
func (m *Manager) Resolve(ctx context.Context, numero string) (*model.Guia, error) {
	g, err := m.store.GetGuia(ctx, numero)
	if err != nil {
		return nil, err
	}
	if !canTransition(g.Status, model.StatusResolved) {
		return nil, ErrInvalidTransition
	}
	return m.apply(ctx, g, model.StatusResolved)
}

// UpdateProcedimentos substitui os itens de linha enquanto a guia ainda não
// foi enviada.
func (m *Manager) UpdateProcedimentos(ctx context.Context, numero string, procs []model.Procedimento) (*model.Guia, error) {
	g, err := m.store.GetGuia(ctx, numero)
	if err != nil {
		return nil, err
	}

	switch g.Status {
	case model.StatusDraft, model.StatusGenerated, model.StatusSigned, model.StatusQueued:
		// editável; XML e assinatura anteriores deixam de valer
	default:
		return nil, ErrGuiaImutavel
	}

	g.Procedimentos = procs
	g.ValorTotal = g.ComputeTotal()
	g.XML = ""
	g.XMLAssinado = ""
	g.DigestAssinado = ""
	prev := g.Status
	g.Status = model.StatusDraft
	g.AtualizadaEm = m.clock.Now()

	if err := m.store.UpdateGuia(ctx, g, prev, g.Version); err != nil {
		return nil, err
	}
	if prev != model.StatusDraft {
		if err := m.audit(ctx, g.Numero, prev, model.StatusDraft); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// AuditTrail devolve a trilha imutável de transições da guia.
func (m *Manager) AuditTrail(ctx context.Context, numero string) ([]*model.AuditRecord, error) {
	return m.store.AuditTrail(ctx, numero)
}

// apply executa a transição com escrita condicional e registra auditoria.
func (m *Manager) apply(ctx context.Context, g *model.Guia, to model.GuiaStatus) (*model.Guia, error) {
	from := g.Status
	g.Status = to
	g.AtualizadaEm = m.clock.Now()

	if err := m.store.UpdateGuia(ctx, g, from, g.Version); err != nil {
		g.Status = from
		return nil, err
	}

	if err := m.audit(ctx, g.Numero, from, to); err != nil {
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"guia": g.Numero,
		"de":   from,
		"para": to,
	}).Info("transição de status aplicada")

	return g, nil
}

func (m *Manager) audit(ctx context.Context, numero string, from, to model.GuiaStatus) error {
	actor, _ := tiss.ActorFromContext(ctx)
	if actor == "" {
		actor = "sistema"
	}
	return m.store.AppendAudit(ctx, &model.AuditRecord{
		ID:         uuid.NewString(),
		NumeroGuia: numero,
		De:         from,
		Para:       to,
		Ator:       actor,
		Timestamp:  m.clock.Now(),
	})
}

// mandatoryFields lista os campos obrigatórios ausentes para a geração do
// XML, todos de uma vez, para o chamador corrigir em uma única rodada.
func mandatoryFields(g *model.Guia) []string {
	var missing []string
	if g.Beneficiario.Nome == "" {
		missing = append(missing, "beneficiario.nome")
	}
	if g.Beneficiario.NumeroCarteira == "" {
		missing = append(missing, "beneficiario.numeroCarteira")
	}
	if len(g.Procedimentos) == 0 {
		missing = append(missing, "procedimentos")
	}
	if g.RegistroANS == "" {
		missing = append(missing, "registroANS")
	}
	return missing
}

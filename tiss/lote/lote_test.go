package lote

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicbr/go-tiss-client/tiss"
	"github.com/clinicbr/go-tiss-client/tiss/api"
	"github.com/clinicbr/go-tiss-client/tiss/cert"
	"github.com/clinicbr/go-tiss-client/tiss/guia"
	"github.com/clinicbr/go-tiss-client/tiss/internal/testkeys"
	"github.com/clinicbr/go-tiss-client/tiss/model"
	"github.com/clinicbr/go-tiss-client/tiss/sign"
	"github.com/clinicbr/go-tiss-client/tiss/store"
)

const senha = "senha-teste"

const aceiteXML = `<?xml version="1.0" encoding="UTF-8"?>
<ans:mensagemTISS xmlns:ans="http://www.ans.gov.br/padroes/tiss/schemas">
  <ans:protocoloRecebimento>PROTO-2026-001</ans:protocoloRecebimento>
</ans:mensagemTISS>`

// fakeClient registra as chamadas e delega a resposta à função configurada.
type fakeClient struct {
	calls  int
	bodies [][]byte
	fn     func(call int) (*api.OperatorResponse, error)
}

func (f *fakeClient) PostTISSXML(_ context.Context, _ string, body []byte) (*api.OperatorResponse, error) {
	f.calls++
	f.bodies = append(f.bodies, body)
	return f.fn(f.calls)
}

type fixture struct {
	ctx    context.Context
	store  *store.MemoryStore
	guias  *guia.Manager
	client *fakeClient
	lotes  *Manager
	p12    []byte
}

func newFixture(t *testing.T, fn func(call int) (*api.OperatorResponse, error)) *fixture {
	t.Helper()

	clock := clockwork.NewRealClock()
	st := store.NewMemoryStore()
	certs := cert.NewStore(clock, 30)
	guias := guia.NewManager(st, certs, clock)
	client := &fakeClient{fn: fn}

	operadoras := StaticDirectory{
		"123456": {RegistroANS: "123456", Nome: "Operadora Exemplo", Endpoint: "https://operadora.example/tiss"},
	}

	lotes := NewManager(st, guias, certs, client, operadoras, clock,
		WithMaxAttempts(3),
		WithBackoff(time.Millisecond),
	)

	return &fixture{
		ctx:    tiss.ContextWithActor(context.Background(), "clinica-1", "ana"),
		store:  st,
		guias:  guias,
		client: client,
		lotes:  lotes,
		p12:    testkeys.ValidP12(t, senha),
	}
}

// enfileira conduz a guia pelo pipeline completo até o status queued.
func (f *fixture) enfileira(t *testing.T, numero string) *model.Guia {
	t.Helper()

	g := &model.Guia{
		Numero: numero,
		Tipo:   model.GuiaConsulta,
		Beneficiario: model.Beneficiario{
			Nome:           "Maria Silva",
			NumeroCarteira: "123456",
		},
		DataAtendim: time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC),
		Procedimentos: []model.Procedimento{
			{Codigo: "10101012", Quantidade: 1, ValorUnitario: 15000, ValorTotal: 15000},
		},
		RegistroANS: "123456",
	}

	require.NoError(t, f.guias.Create(f.ctx, g))
	_, err := f.guias.GenerateXML(f.ctx, numero, tiss.V305)
	require.NoError(t, err)
	_, err = f.guias.SignGuia(f.ctx, numero, f.p12, senha)
	require.NoError(t, err)
	g, err = f.guias.Enqueue(f.ctx, numero)
	require.NoError(t, err)
	return g
}

func aceita(call int) (*api.OperatorResponse, error) {
	return &api.OperatorResponse{StatusCode: 200, Body: []byte(aceiteXML)}, nil
}

func TestBuildReivindicaGuias(t *testing.T) {
	f := newFixture(t, aceita)

	f.enfileira(t, "G1")
	f.enfileira(t, "G2")

	l, err := f.lotes.Build(f.ctx, "123456", []string{"G1", "G2"})
	require.NoError(t, err)

	assert.Equal(t, model.LoteOpen, l.Status)
	assert.Equal(t, []string{"G1", "G2"}, l.Guias)
	assert.Equal(t, int64(30000), l.ValorTotal)
	assert.NotEmpty(t, l.NumeroTransacao)

	g, err := f.store.GetGuia(f.ctx, "G1")
	require.NoError(t, err)
	assert.Equal(t, l.ID, g.LoteID)
	assert.Equal(t, model.StatusQueued, g.Status)
}

func TestBuildSemGuias(t *testing.T) {
	f := newFixture(t, aceita)
	_, err := f.lotes.Build(f.ctx, "123456", nil)
	assert.Error(t, err)
}

func TestBuildGuiaNaoEnfileirada(t *testing.T) {
	f := newFixture(t, aceita)

	g := &model.Guia{
		Numero:      "G1",
		Tipo:        model.GuiaConsulta,
		Status:      model.StatusDraft,
		RegistroANS: "123456",
	}
	require.NoError(t, f.store.SaveGuia(f.ctx, g))

	_, err := f.lotes.Build(f.ctx, "123456", []string{"G1"})
	assert.ErrorIs(t, err, guia.ErrInvalidTransition)
}

func TestBuildOperadoraDivergente(t *testing.T) {
	f := newFixture(t, aceita)
	f.enfileira(t, "G1")

	_, err := f.lotes.Build(f.ctx, "654321", []string{"G1"})
	assert.ErrorIs(t, err, ErrOperadoraDivergente)
}

func TestBuildGuiaJaReivindicada(t *testing.T) {
	f := newFixture(t, aceita)
	f.enfileira(t, "G1")

	_, err := f.lotes.Build(f.ctx, "123456", []string{"G1"})
	require.NoError(t, err)

	// a guia segue queued, mas pertence a um lote aberto
	_, err = f.lotes.Build(f.ctx, "123456", []string{"G1"})
	assert.ErrorIs(t, err, ErrGuiaJaEmLote)
}

func TestSubmitAceito(t *testing.T) {
	f := newFixture(t, aceita)
	f.enfileira(t, "G1")
	f.enfileira(t, "G2")

	l, err := f.lotes.Build(f.ctx, "123456", []string{"G1", "G2"})
	require.NoError(t, err)

	res, err := f.lotes.Submit(f.ctx, l.ID, f.p12, senha)
	require.NoError(t, err)

	assert.Equal(t, model.LoteAccepted, res.Status)
	assert.Equal(t, "PROTO-2026-001", res.Protocolo)
	require.Len(t, res.PerGuia, 2)
	for _, r := range res.PerGuia {
		assert.Equal(t, model.StatusSent, r.Status)
	}

	// o corpo enviado é o envelope assinado do lote
	require.Equal(t, 1, f.client.calls)
	require.NoError(t, sign.VerifyStructure(string(f.client.bodies[0])))

	got, err := f.store.GetLote(f.ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, model.LoteAccepted, got.Status)
	assert.Equal(t, "PROTO-2026-001", got.ProtocoloRemoto)
	assert.Equal(t, 1, got.SendAttemptCount)

	g, err := f.store.GetGuia(f.ctx, "G1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusSent, g.Status)
	assert.Equal(t, l.ID, g.LoteID)
}

func TestSubmitReenvioDeLoteAceito(t *testing.T) {
	f := newFixture(t, aceita)
	f.enfileira(t, "G1")

	l, err := f.lotes.Build(f.ctx, "123456", []string{"G1"})
	require.NoError(t, err)

	_, err = f.lotes.Submit(f.ctx, l.ID, f.p12, senha)
	require.NoError(t, err)

	_, err = f.lotes.Submit(f.ctx, l.ID, f.p12, senha)
	assert.ErrorIs(t, err, ErrLoteJaAceito)
}

func TestSubmitRejeicaoDefinitiva(t *testing.T) {
	f := newFixture(t, func(call int) (*api.OperatorResponse, error) {
		return nil, &api.RequestError{StatusCode: 422, Body: "lote rejeitado"}
	})
	f.enfileira(t, "G1")

	l, err := f.lotes.Build(f.ctx, "123456", []string{"G1"})
	require.NoError(t, err)

	_, err = f.lotes.Submit(f.ctx, l.ID, f.p12, senha)

	var subErr *tiss.SubmissionError
	require.ErrorAs(t, err, &subErr)
	assert.False(t, subErr.Retryable)
	assert.Equal(t, 422, subErr.StatusCode)
	assert.Equal(t, "TISS-SUB-002", subErr.Codigo())

	// rejeição é terminal: sem retentativa
	assert.Equal(t, 1, f.client.calls)

	got, err := f.store.GetLote(f.ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, model.LoteFailed, got.Status)

	// a guia volta a ficar livre para um novo lote
	g, err := f.store.GetGuia(f.ctx, "G1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusQueued, g.Status)
	assert.Empty(t, g.LoteID)
}

func TestSubmitFalhaDeTransporteEsgotada(t *testing.T) {
	f := newFixture(t, func(call int) (*api.OperatorResponse, error) {
		return nil, &api.TransportError{Err: context.DeadlineExceeded}
	})
	f.enfileira(t, "G1")

	l, err := f.lotes.Build(f.ctx, "123456", []string{"G1"})
	require.NoError(t, err)

	_, err = f.lotes.Submit(f.ctx, l.ID, f.p12, senha)

	var subErr *tiss.SubmissionError
	require.ErrorAs(t, err, &subErr)
	assert.True(t, subErr.Retryable)
	assert.Equal(t, 3, subErr.Attempt)
	assert.Equal(t, "TISS-SUB-001", subErr.Codigo())
	assert.Equal(t, 3, f.client.calls)

	// lote permanece aberto; o contador de tentativas foi persistido
	got, err := f.store.GetLote(f.ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, model.LoteOpen, got.Status)
	assert.Equal(t, 3, got.SendAttemptCount)
	assert.NotEmpty(t, got.LastError)
}

func TestSubmitRecuperaAposTransporteIntermitente(t *testing.T) {
	f := newFixture(t, func(call int) (*api.OperatorResponse, error) {
		if call < 3 {
			return nil, &api.TransportError{Err: context.DeadlineExceeded}
		}
		return &api.OperatorResponse{StatusCode: 200, Body: []byte(aceiteXML)}, nil
	})
	f.enfileira(t, "G1")

	l, err := f.lotes.Build(f.ctx, "123456", []string{"G1"})
	require.NoError(t, err)

	res, err := f.lotes.Submit(f.ctx, l.ID, f.p12, senha)
	require.NoError(t, err)

	assert.Equal(t, model.LoteAccepted, res.Status)
	assert.Equal(t, 3, f.client.calls)

	got, err := f.store.GetLote(f.ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.SendAttemptCount)
	assert.Empty(t, got.LastError)
}

func TestSubmitOperadoraDesconhecida(t *testing.T) {
	f := newFixture(t, aceita)
	f.enfileira(t, "G1")

	l := &model.Lote{ID: "L1", RegistroANS: "999999", Status: model.LoteOpen, Guias: []string{"G1"}}
	require.NoError(t, f.store.SaveLote(f.ctx, l))

	_, err := f.lotes.Submit(f.ctx, "L1", f.p12, senha)
	assert.ErrorContains(t, err, "999999")
}

func TestSubmitCertificadoExpirado(t *testing.T) {
	f := newFixture(t, aceita)
	f.enfileira(t, "G1")

	l, err := f.lotes.Build(f.ctx, "123456", []string{"G1"})
	require.NoError(t, err)

	_, err = f.lotes.Submit(f.ctx, l.ID, testkeys.ExpiredP12(t, senha), senha)

	var certErr *tiss.CertificateError
	require.ErrorAs(t, err, &certErr)
	assert.Equal(t, tiss.CertExpired, certErr.Reason)
	assert.Zero(t, f.client.calls)
}

// TestPipelineCompleto percorre o caminho feliz inteiro: criação da guia,
// geração e assinatura do XML, montagem e envio do lote e reconciliação de
// uma glosa parcial.
func TestPipelineCompleto(t *testing.T) {
	f := newFixture(t, aceita)

	g := f.enfileira(t, "000001")
	assert.Equal(t, int64(15000), g.ValorTotal)

	l, err := f.lotes.Build(f.ctx, "123456", []string{"000001"})
	require.NoError(t, err)

	res, err := f.lotes.Submit(f.ctx, l.ID, f.p12, senha)
	require.NoError(t, err)
	require.Equal(t, model.LoteAccepted, res.Status)

	gl := &model.Glosa{
		NumeroGuia:      "000001",
		ValorOriginal:   15000,
		ValorGlosado:    3000,
		Status:          model.GlosaPendente,
		DataRecebimento: time.Now(),
		Itens: []model.ItemGlosado{
			{CodigoProcedimento: "10101012", CodigoMotivo: "1705", ValorGlosado: 3000},
		},
	}

	got, err := f.guias.RegisterGlosa(f.ctx, gl)
	require.NoError(t, err)
	assert.Equal(t, model.StatusDenied, got.Status)

	got, err = f.guias.FileAppeal(f.ctx, gl)
	require.NoError(t, err)
	assert.Equal(t, model.StatusContested, got.Status)

	got, err = f.guias.Resolve(f.ctx, "000001")
	require.NoError(t, err)
	assert.Equal(t, model.StatusResolved, got.Status)

	trail, err := f.guias.AuditTrail(f.ctx, "000001")
	require.NoError(t, err)
	// draft, generated, signed, queued, sent, denied, contested, resolved
	assert.Len(t, trail, 8)
}

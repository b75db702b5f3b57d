package guia

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicbr/go-tiss-client/tiss"
	"github.com/clinicbr/go-tiss-client/tiss/cert"
	"github.com/clinicbr/go-tiss-client/tiss/internal/testkeys"
	"github.com/clinicbr/go-tiss-client/tiss/model"
	"github.com/clinicbr/go-tiss-client/tiss/sign"
	"github.com/clinicbr/go-tiss-client/tiss/store"
)

const senha = "senha-teste"

func testCtx() context.Context {
	return tiss.ContextWithActor(context.Background(), "clinica-1", "ana")
}

func novaGuia(numero string) *model.Guia {
	return &model.Guia{
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
}

func newTestManager(t *testing.T) (*Manager, *store.MemoryStore, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Now())
	st := store.NewMemoryStore()
	return NewManager(st, cert.NewStore(clock, 30), clock), st, clock
}

func TestCreateRecalculaTotal(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := testCtx()

	g := novaGuia("G1")
	g.ValorTotal = 999999 // entrada não confiável, deve ser recalculada

	require.NoError(t, m.Create(ctx, g))

	assert.Equal(t, model.StatusDraft, g.Status)
	assert.Equal(t, int64(15000), g.ValorTotal)
	assert.True(t, g.TotalConsistente())

	trail, err := m.AuditTrail(ctx, "G1")
	require.NoError(t, err)
	require.Len(t, trail, 1)
	assert.Equal(t, model.GuiaStatus(""), trail[0].De)
	assert.Equal(t, model.StatusDraft, trail[0].Para)
	assert.Equal(t, "ana", trail[0].Ator)
}

func TestGenerateXMLCamposObrigatorios(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := testCtx()

	g := novaGuia("G1")
	g.Beneficiario.Nome = ""
	g.RegistroANS = ""
	require.NoError(t, m.Create(ctx, g))

	_, err := m.GenerateXML(ctx, "G1", tiss.V305)

	// todos os campos ausentes reportados de uma vez
	var valErr *tiss.ValidationError
	require.ErrorAs(t, err, &valErr)
	assert.ElementsMatch(t, []string{"beneficiario.nome", "registroANS"}, valErr.Fields)

	// a guia permanece em rascunho
	got, err := m.store.GetGuia(ctx, "G1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusDraft, got.Status)
}

func TestFluxoAteAssinatura(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := testCtx()
	p12 := testkeys.ValidP12(t, senha)

	require.NoError(t, m.Create(ctx, novaGuia("G1")))

	g, err := m.GenerateXML(ctx, "G1", tiss.V305)
	require.NoError(t, err)
	assert.Equal(t, model.StatusGenerated, g.Status)
	assert.NotEmpty(t, g.XML)

	g, err = m.SignGuia(ctx, "G1", p12, senha)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSigned, g.Status)
	assert.NotEmpty(t, g.XMLAssinado)
	assert.Len(t, g.DigestAssinado, 64)
	require.NoError(t, sign.VerifyStructure(g.XMLAssinado))

	g, err = m.Enqueue(ctx, "G1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusQueued, g.Status)

	trail, err := m.AuditTrail(ctx, "G1")
	require.NoError(t, err)
	require.Len(t, trail, 4)
	assert.Equal(t, model.StatusQueued, trail[3].Para)
}

func TestSignGuiaSenhaErrada(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := testCtx()
	p12 := testkeys.ValidP12(t, senha)

	require.NoError(t, m.Create(ctx, novaGuia("G1")))
	_, err := m.GenerateXML(ctx, "G1", tiss.V305)
	require.NoError(t, err)

	_, err = m.SignGuia(ctx, "G1", p12, "senha-errada")

	var certErr *tiss.CertificateError
	require.ErrorAs(t, err, &certErr)
	assert.Equal(t, tiss.CertInvalidPassword, certErr.Reason)

	got, err := m.store.GetGuia(ctx, "G1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusGenerated, got.Status)
	assert.Empty(t, got.XMLAssinado)
}

func TestSignGuiaCertificadoExpirado(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := testCtx()

	require.NoError(t, m.Create(ctx, novaGuia("G1")))
	_, err := m.GenerateXML(ctx, "G1", tiss.V305)
	require.NoError(t, err)

	_, err = m.SignGuia(ctx, "G1", testkeys.ExpiredP12(t, senha), senha)

	var certErr *tiss.CertificateError
	require.ErrorAs(t, err, &certErr)
	assert.Equal(t, tiss.CertExpired, certErr.Reason)
}

func TestTransicoesInvalidas(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := testCtx()

	require.NoError(t, m.Create(ctx, novaGuia("G1")))

	// rascunho não pode ser assinado nem enfileirado
	_, err := m.SignGuia(ctx, "G1", testkeys.ValidP12(t, senha), senha)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = m.Enqueue(ctx, "G1")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = m.Resolve(ctx, "G1")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestTransitionRejeitaSentDireto(t *testing.T) {
	m, st, _ := newTestManager(t)
	ctx := testCtx()

	g := novaGuia("G1")
	g.Status = model.StatusQueued
	require.NoError(t, st.SaveGuia(ctx, g))

	_, err := m.Transition(ctx, "G1", model.StatusSent)
	assert.ErrorIs(t, err, ErrSentOutsideLote)
}

func TestCompleteLoteSubmission(t *testing.T) {
	m, st, _ := newTestManager(t)
	ctx := testCtx()

	g := novaGuia("G1")
	g.Status = model.StatusQueued
	require.NoError(t, st.SaveGuia(ctx, g))

	l := &model.Lote{ID: "L1", Status: model.LoteAccepted, Guias: []string{"G1"}}
	require.NoError(t, st.SaveLote(ctx, l))

	require.NoError(t, m.CompleteLoteSubmission(ctx, "L1", []string{"G1"}))

	got, err := st.GetGuia(ctx, "G1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusSent, got.Status)
	assert.Equal(t, "L1", got.LoteID)

	// reexecução do mesmo lote é idempotente
	require.NoError(t, m.CompleteLoteSubmission(ctx, "L1", []string{"G1"}))
}

func TestCompleteLoteSubmissionExigeLoteAceito(t *testing.T) {
	m, st, _ := newTestManager(t)
	ctx := testCtx()

	g := novaGuia("G1")
	g.Status = model.StatusQueued
	require.NoError(t, st.SaveGuia(ctx, g))

	l := &model.Lote{ID: "L1", Status: model.LoteOpen, Guias: []string{"G1"}}
	require.NoError(t, st.SaveLote(ctx, l))

	err := m.CompleteLoteSubmission(ctx, "L1", []string{"G1"})
	assert.ErrorIs(t, err, ErrSentOutsideLote)
}

func TestCompleteLoteSubmissionExigeGuiaNoLote(t *testing.T) {
	m, st, _ := newTestManager(t)
	ctx := testCtx()

	g := novaGuia("G2")
	g.Status = model.StatusQueued
	require.NoError(t, st.SaveGuia(ctx, g))

	l := &model.Lote{ID: "L1", Status: model.LoteAccepted, Guias: []string{"G1"}}
	require.NoError(t, st.SaveLote(ctx, l))

	err := m.CompleteLoteSubmission(ctx, "L1", []string{"G2"})
	assert.ErrorIs(t, err, ErrSentOutsideLote)
}

func TestRegisterGlosaNegada(t *testing.T) {
	m, st, _ := newTestManager(t)
	ctx := testCtx()

	g := novaGuia("G1")
	g.Status = model.StatusSent
	require.NoError(t, st.SaveGuia(ctx, g))

	gl := &model.Glosa{
		NumeroGuia:      "G1",
		ValorOriginal:   15000,
		ValorGlosado:    3000,
		Status:          model.GlosaPendente,
		DataRecebimento: time.Now(),
	}

	got, err := m.RegisterGlosa(ctx, gl)
	require.NoError(t, err)
	assert.Equal(t, model.StatusDenied, got.Status)

	glosas, err := st.GlosasByGuia(ctx, "G1")
	require.NoError(t, err)
	require.Len(t, glosas, 1)
	assert.Equal(t, int64(3000), glosas[0].ValorGlosado)
}

func TestRegisterGlosaSemNegativa(t *testing.T) {
	m, st, _ := newTestManager(t)
	ctx := testCtx()

	g := novaGuia("G1")
	g.Status = model.StatusSent
	require.NoError(t, st.SaveGuia(ctx, g))

	gl := &model.Glosa{
		NumeroGuia:    "G1",
		ValorOriginal: 15000,
		ValorGlosado:  0,
		Status:        model.GlosaPendente,
	}

	got, err := m.RegisterGlosa(ctx, gl)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSettled, got.Status)
}

func TestFileAppealDentroDoPrazo(t *testing.T) {
	m, st, clock := newTestManager(t)
	ctx := testCtx()

	g := novaGuia("G1")
	g.Status = model.StatusDenied
	require.NoError(t, st.SaveGuia(ctx, g))

	gl := &model.Glosa{
		NumeroGuia:      "G1",
		ValorOriginal:   15000,
		ValorGlosado:    3000,
		Status:          model.GlosaPendente,
		DataRecebimento: clock.Now().AddDate(0, 0, -10),
	}

	got, err := m.FileAppeal(ctx, gl)
	require.NoError(t, err)
	assert.Equal(t, model.StatusContested, got.Status)
	assert.Equal(t, model.GlosaEmRecurso, gl.Status)

	// decisão final da operadora encerra o ciclo
	got, err = m.Resolve(ctx, "G1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusResolved, got.Status)
}

func TestFileAppealForaDoPrazo(t *testing.T) {
	m, st, clock := newTestManager(t)
	ctx := testCtx()

	g := novaGuia("G1")
	g.Status = model.StatusDenied
	require.NoError(t, st.SaveGuia(ctx, g))

	gl := &model.Glosa{
		NumeroGuia:      "G1",
		ValorGlosado:    3000,
		DataRecebimento: clock.Now().AddDate(0, 0, -31),
	}

	_, err := m.FileAppeal(ctx, gl)

	var deadlineErr *tiss.DeadlineExceededError
	require.ErrorAs(t, err, &deadlineErr)

	// a guia permanece negada
	got, err := st.GetGuia(ctx, "G1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusDenied, got.Status)
}

func TestUpdateProcedimentosAntesDoEnvio(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := testCtx()
	p12 := testkeys.ValidP12(t, senha)

	require.NoError(t, m.Create(ctx, novaGuia("G1")))
	_, err := m.GenerateXML(ctx, "G1", tiss.V305)
	require.NoError(t, err)
	_, err = m.SignGuia(ctx, "G1", p12, senha)
	require.NoError(t, err)

	novos := []model.Procedimento{
		{Codigo: "10101012", Quantidade: 2, ValorUnitario: 15000, ValorTotal: 30000},
	}
	g, err := m.UpdateProcedimentos(ctx, "G1", novos)
	require.NoError(t, err)

	// edição invalida XML e assinatura e volta ao rascunho
	assert.Equal(t, model.StatusDraft, g.Status)
	assert.Equal(t, int64(30000), g.ValorTotal)
	assert.Empty(t, g.XML)
	assert.Empty(t, g.XMLAssinado)
	assert.Empty(t, g.DigestAssinado)
}

func TestUpdateProcedimentosAposEnvio(t *testing.T) {
	m, st, _ := newTestManager(t)
	ctx := testCtx()

	g := novaGuia("G1")
	g.Status = model.StatusSent
	require.NoError(t, st.SaveGuia(ctx, g))

	_, err := m.UpdateProcedimentos(ctx, "G1", nil)
	assert.ErrorIs(t, err, ErrGuiaImutavel)
}

func TestAtorPadraoSistema(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := tiss.Context(context.Background(), "clinica-1")

	require.NoError(t, m.Create(ctx, novaGuia("G1")))

	trail, err := m.AuditTrail(ctx, "G1")
	require.NoError(t, err)
	require.Len(t, trail, 1)
	assert.Equal(t, "sistema", trail[0].Ator)
}

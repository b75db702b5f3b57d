// Package model contém as estruturas persistidas do subsistema de
// faturamento TISS: guia, lote, glosa e metadados do certificado digital.
// Valores monetários são sempre inteiros em centavos.
package model

import "time"

// Operadora é dado de referência imutável da operadora de plano de saúde.
type Operadora struct {
	RegistroANS   string `json:"registroANS"` // código ANS de 6 dígitos
	Nome          string `json:"nome"`
	Endpoint      string `json:"endpoint"`
	VersaoTabela  string `json:"versaoTabela"`
	TelefoneSuprt string `json:"telefoneSuporte,omitempty"`
}

type GuiaType string

const (
	GuiaConsulta   GuiaType = "consulta"
	GuiaSADT       GuiaType = "sadt"
	GuiaInternacao GuiaType = "internacao"
	GuiaHonorarios GuiaType = "honorarios"
	GuiaAnexo      GuiaType = "anexo"
)

type GuiaStatus string

const (
	StatusDraft     GuiaStatus = "draft"
	StatusGenerated GuiaStatus = "generated"
	StatusSigned    GuiaStatus = "signed"
	StatusQueued    GuiaStatus = "queued"
	StatusSent      GuiaStatus = "sent"
	StatusSettled   GuiaStatus = "settled"
	StatusDenied    GuiaStatus = "denied"
	StatusContested GuiaStatus = "contested"
	StatusResolved  GuiaStatus = "resolved"
)

// Beneficiario identifica o paciente perante a operadora.
type Beneficiario struct {
	Nome           string `json:"nome"`
	NumeroCarteira string `json:"numeroCarteira"`
	RecemNascido   bool   `json:"recemNascido"`
}

// Procedimento é um item de linha da guia. ValorUnitario e ValorTotal em
// centavos; ValorTotal deve ser Quantidade × ValorUnitario.
type Procedimento struct {
	Codigo        string `json:"codigo"`
	Descricao     string `json:"descricao,omitempty"`
	Quantidade    int64  `json:"quantidade"`
	ValorUnitario int64  `json:"valorUnitario"`
	ValorTotal    int64  `json:"valorTotal"`
}

// Guia é uma cobrança individual enviada à operadora. Após atingir o status
// sent os procedimentos tornam-se imutáveis; correções exigem nova guia ou
// ajuste via glosa.
type Guia struct {
	Numero         string         `json:"numero"`
	Tipo           GuiaType       `json:"tipo"`
	Beneficiario   Beneficiario   `json:"beneficiario"`
	DataAtendim    time.Time      `json:"dataAtendimento"`
	Procedimentos  []Procedimento `json:"procedimentos"`
	ValorTotal     int64          `json:"valorTotal"`
	RegistroANS    string         `json:"registroANS"`
	Status         GuiaStatus     `json:"status"`
	XML            string         `json:"xml,omitempty"`
	XMLAssinado    string         `json:"xmlAssinado,omitempty"`
	DigestAssinado string         `json:"digestAssinado,omitempty"`
	LoteID         string         `json:"loteId,omitempty"` // referência fraca, o lote é o dono
	CriadaEm       time.Time      `json:"criadaEm"`
	AtualizadaEm   time.Time      `json:"atualizadaEm"`

	// Version suporta escrita condicional (concorrência otimista).
	Version int64 `json:"version"`
}

// ComputeTotal recalcula o valor total a partir dos itens de linha.
func (g *Guia) ComputeTotal() int64 {
	var total int64
	for _, p := range g.Procedimentos {
		total += p.ValorTotal
	}
	return total
}

// TotalConsistente verifica o invariante valor total == soma dos itens.
func (g *Guia) TotalConsistente() bool {
	return g.ValorTotal == g.ComputeTotal()
}

type LoteStatus string

const (
	LoteOpen     LoteStatus = "open"
	LoteAccepted LoteStatus = "accepted"
	LoteFailed   LoteStatus = "failed"
)

// Lote agrupa guias de uma mesma operadora para envio conjunto.
type Lote struct {
	ID               string     `json:"id"`
	NumeroTransacao  string     `json:"numeroTransacao"`
	RegistroANS      string     `json:"registroANS"`
	Guias            []string   `json:"guias"` // números das guias, na ordem de inclusão
	ValorTotal       int64      `json:"valorTotal"`
	Status           LoteStatus `json:"status"`
	XMLAssinado      string     `json:"xmlAssinado,omitempty"`
	SendAttemptCount int        `json:"sendAttemptCount"`
	LastError        string     `json:"lastError,omitempty"`
	ProtocoloRemoto  string     `json:"protocoloRemoto,omitempty"`
	CriadoEm         time.Time  `json:"criadoEm"`

	Version int64 `json:"version"`
}

type GlosaStatus string

const (
	GlosaPendente  GlosaStatus = "pendente"
	GlosaEmRecurso GlosaStatus = "em_recurso"
	GlosaResolvida GlosaStatus = "resolvida"
)

// ItemGlosado é um item de linha negado pela operadora.
type ItemGlosado struct {
	CodigoProcedimento string `json:"codigoProcedimento"`
	ValorGlosado       int64  `json:"valorGlosado"`
	CodigoMotivo       string `json:"codigoMotivo"`
	Descricao          string `json:"descricao,omitempty"`
}

// Glosa registra a negativa parcial ou total de uma guia. O prazo de recurso
// é derivado de DataRecebimento, nunca armazenado em separado.
type Glosa struct {
	NumeroGuia      string        `json:"numeroGuia"`
	TipoGuia        GuiaType      `json:"tipoGuia"`
	RegistroANS     string        `json:"registroANS"`
	DataRecebimento time.Time     `json:"dataRecebimento"`
	ValorOriginal   int64         `json:"valorOriginal"`
	ValorGlosado    int64         `json:"valorGlosado"`
	Itens           []ItemGlosado `json:"itens"`
	Status          GlosaStatus   `json:"status"`
}

// ValorAprovado é sempre derivado e nunca negativo.
func (g *Glosa) ValorAprovado() int64 {
	v := g.ValorOriginal - g.ValorGlosado
	if v < 0 {
		return 0
	}
	return v
}

// CertificateInfo são os metadados extraídos do contêiner PKCS#12. Os bytes
// do contêiner e a senha nunca saem da fronteira de assinatura.
type CertificateInfo struct {
	Subject    string    `json:"subject"`
	Issuer     string    `json:"issuer"`
	Serial     string    `json:"serial"`
	ValidFrom  time.Time `json:"validFrom"`
	ValidUntil time.Time `json:"validUntil"`
	Tipo       string    `json:"tipo"` // A1
}

// AuditRecord é o registro imutável de uma transição de status de guia.
type AuditRecord struct {
	ID         string     `json:"id"`
	NumeroGuia string     `json:"numeroGuia"`
	De         GuiaStatus `json:"de"`
	Para       GuiaStatus `json:"para"`
	Ator       string     `json:"ator"`
	Timestamp  time.Time  `json:"timestamp"`
}

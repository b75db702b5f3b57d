package tiss

import (
	"fmt"
	"strings"
	"time"
)

// Erros de negócio expostos ao chamador. Cada um carrega um código estável
// e uma mensagem em português para a equipe da clínica; detalhes de
// diagnóstico ficam nos logs, nunca na mensagem.

// ValidationError indica campos obrigatórios ausentes ou malformados na guia.
// Recuperável: o chamador corrige a entrada e tenta de novo, nunca há retry
// automático.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("TISS-VAL-001: campos obrigatórios ausentes ou inválidos: %s",
		strings.Join(e.Fields, ", "))
}

func (e *ValidationError) Codigo() string { return "TISS-VAL-001" }

// SchemaValidationError indica a primeira violação estrutural encontrada na
// montagem do XML.
type SchemaValidationError struct {
	Field  string
	Detail string
}

func (e *SchemaValidationError) Error() string {
	return fmt.Sprintf("TISS-VAL-002: campo %q viola o esquema TISS: %s", e.Field, e.Detail)
}

func (e *SchemaValidationError) Codigo() string { return "TISS-VAL-002" }

// CertificateReason classifica falhas do certificado digital.
type CertificateReason string

const (
	CertNotConfigured   CertificateReason = "not_configured"
	CertExpired         CertificateReason = "expired"
	CertInvalidPassword CertificateReason = "invalid_password"
)

// CertificateError é terminal até que um operador corrija o certificado;
// nunca é contornado silenciosamente.
type CertificateError struct {
	Reason CertificateReason
}

func (e *CertificateError) Error() string {
	switch e.Reason {
	case CertNotConfigured:
		return "TISS-CERT-001: certificado digital não configurado para a clínica"
	case CertExpired:
		return "TISS-CERT-002: certificado digital expirado"
	case CertInvalidPassword:
		return "TISS-CERT-003: senha do certificado digital inválida"
	}
	return fmt.Sprintf("TISS-CERT-000: falha no certificado digital (%s)", e.Reason)
}

func (e *CertificateError) Codigo() string {
	switch e.Reason {
	case CertNotConfigured:
		return "TISS-CERT-001"
	case CertExpired:
		return "TISS-CERT-002"
	case CertInvalidPassword:
		return "TISS-CERT-003"
	}
	return "TISS-CERT-000"
}

// SigningError indica PKCS#12 malformado ou falha criptográfica. Terminal:
// assinar de novo com a mesma entrada produziria a mesma falha, então nunca
// há retry. A mensagem jamais inclui material sensível.
type SigningError struct {
	Op  string
	Err error
}

func (e *SigningError) Error() string {
	return fmt.Sprintf("TISS-SIGN-001: falha ao assinar o documento (%s)", e.Op)
}

func (e *SigningError) Unwrap() error { return e.Err }

func (e *SigningError) Codigo() string { return "TISS-SIGN-001" }

// SubmissionError classifica falhas no envio do lote. Falha de transporte é
// retryable com backoff limitado; rejeição da operadora é terminal e exige
// correção manual.
type SubmissionError struct {
	Retryable  bool
	Attempt    int
	StatusCode int
	Err        error
}

func (e *SubmissionError) Error() string {
	if e.Retryable {
		return fmt.Sprintf("TISS-SUB-001: falha de comunicação com a operadora (tentativa %d)", e.Attempt)
	}
	return fmt.Sprintf("TISS-SUB-002: lote rejeitado pela operadora (HTTP %d), correção manual necessária", e.StatusCode)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

func (e *SubmissionError) Codigo() string {
	if e.Retryable {
		return "TISS-SUB-001"
	}
	return "TISS-SUB-002"
}

// DeadlineExceededError indica recurso de glosa protocolado após o prazo.
// Regra de negócio recuperável, não é falha de sistema.
type DeadlineExceededError struct {
	Deadline time.Time
}

func (e *DeadlineExceededError) Error() string {
	return fmt.Sprintf("TISS-GLO-001: prazo de recurso expirado em %s",
		e.Deadline.Format("02/01/2006"))
}

func (e *DeadlineExceededError) Codigo() string { return "TISS-GLO-001" }

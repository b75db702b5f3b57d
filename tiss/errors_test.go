package tiss

import (
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCodigosDeErro(t *testing.T) {
	assert.Equal(t, "TISS-VAL-001", (&ValidationError{}).Codigo())
	assert.Equal(t, "TISS-VAL-002", (&SchemaValidationError{}).Codigo())
	assert.Equal(t, "TISS-CERT-001", (&CertificateError{Reason: CertNotConfigured}).Codigo())
	assert.Equal(t, "TISS-CERT-002", (&CertificateError{Reason: CertExpired}).Codigo())
	assert.Equal(t, "TISS-CERT-003", (&CertificateError{Reason: CertInvalidPassword}).Codigo())
	assert.Equal(t, "TISS-SIGN-001", (&SigningError{}).Codigo())
	assert.Equal(t, "TISS-SUB-001", (&SubmissionError{Retryable: true}).Codigo())
	assert.Equal(t, "TISS-SUB-002", (&SubmissionError{}).Codigo())
	assert.Equal(t, "TISS-GLO-001", (&DeadlineExceededError{}).Codigo())
}

func TestValidationErrorListaCampos(t *testing.T) {
	err := &ValidationError{Fields: []string{"beneficiario.nome", "registroANS"}}
	assert.Contains(t, err.Error(), "beneficiario.nome, registroANS")
}

func TestSigningErrorNaoVazaDetalhe(t *testing.T) {
	err := &SigningError{Op: "decode pkcs12", Err: errors.New("senha secreta no erro interno")}

	// a mensagem apresentável expõe só a operação; o detalhe fica no Unwrap
	assert.NotContains(t, err.Error(), "senha secreta")
	assert.Contains(t, err.Error(), "decode pkcs12")
	assert.ErrorContains(t, err.Unwrap(), "senha secreta")
}

func TestSubmissionErrorUnwrap(t *testing.T) {
	err := &SubmissionError{Retryable: true, Attempt: 2, Err: io.EOF}
	assert.ErrorIs(t, err, io.EOF)
	assert.Contains(t, err.Error(), "tentativa 2")
}

func TestDeadlineExceededErrorFormataPrazo(t *testing.T) {
	err := &DeadlineExceededError{Deadline: time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)}
	assert.Contains(t, err.Error(), "15/03/2026")
}

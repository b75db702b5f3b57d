// Package cert carrega e valida o certificado digital A1 da clínica a partir
// de um contêiner PKCS#12. A chave privada e a senha existem apenas durante a
// operação de assinatura e nunca são logadas ou persistidas.
package cert

import (
	"bytes"
	"crypto/rsa"
	"crypto/x509"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	pkcs12 "software.sslmate.com/src/go-pkcs12"

	"github.com/clinicbr/go-tiss-client/tiss"
	"github.com/clinicbr/go-tiss-client/tiss/model"
)

var logger = logrus.WithField("component", "tiss.cert")

// Certificate reúne a chave privada e o certificado X.509 extraídos do
// contêiner. Implementa dsig.X509KeyStore para o motor de assinatura.
type Certificate struct {
	key   *rsa.PrivateKey
	cert  *x509.Certificate
	chain []*x509.Certificate
}

// Load decodifica um contêiner PKCS#12 (ou material PEM, ver pem.go).
// Senha errada resulta em CertificateError(invalid_password); contêiner
// corrompido em SigningError. Nunca devolve material parcial.
func Load(p12 []byte, password string) (*Certificate, error) {
	if len(p12) == 0 {
		return nil, &tiss.CertificateError{Reason: tiss.CertNotConfigured}
	}

	if bytes.Contains(p12, []byte("-----BEGIN")) {
		return loadPEM(p12, []byte(password))
	}

	keyAny, leaf, chain, err := pkcs12.DecodeChain(p12, password)
	if err != nil {
		if errors.Is(err, pkcs12.ErrIncorrectPassword) {
			return nil, &tiss.CertificateError{Reason: tiss.CertInvalidPassword}
		}
		return nil, &tiss.SigningError{Op: "decode pkcs12", Err: err}
	}

	key, ok := keyAny.(*rsa.PrivateKey)
	if !ok {
		return nil, &tiss.SigningError{
			Op:  "pkcs12 key type",
			Err: fmt.Errorf("expected RSA private key, got %T", keyAny),
		}
	}

	return &Certificate{key: key, cert: leaf, chain: chain}, nil
}

// Valid rejeita certificado fora da janela de validade. Chamado a cada
// operação de assinatura, nunca em cache entre invocações.
func (c *Certificate) Valid(now time.Time) error {
	if now.Before(c.cert.NotBefore) || now.After(c.cert.NotAfter) {
		logger.WithFields(logrus.Fields{
			"not_before": c.cert.NotBefore,
			"not_after":  c.cert.NotAfter,
		}).Warn("certificado fora da janela de validade")
		return &tiss.CertificateError{Reason: tiss.CertExpired}
	}
	return nil
}

// GetKeyPair implementa dsig.X509KeyStore.
func (c *Certificate) GetKeyPair() (*rsa.PrivateKey, []byte, error) {
	return c.key, c.cert.Raw, nil
}

// Info extrai os metadados apresentáveis do certificado.
func (c *Certificate) Info() model.CertificateInfo {
	return model.CertificateInfo{
		Subject:    c.cert.Subject.String(),
		Issuer:     c.cert.Issuer.String(),
		Serial:     c.cert.SerialNumber.String(),
		ValidFrom:  c.cert.NotBefore,
		ValidUntil: c.cert.NotAfter,
		Tipo:       "A1",
	}
}

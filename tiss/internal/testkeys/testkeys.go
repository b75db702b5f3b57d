// Package testkeys gera material criptográfico descartável para os testes:
// certificado A1 autoassinado empacotado em PKCS#12.
package testkeys

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	pkcs12 "software.sslmate.com/src/go-pkcs12"
)

// P12 gera um contêiner PKCS#12 com chave RSA de 2048 bits e certificado
// autoassinado válido na janela informada.
func P12(t *testing.T, notBefore, notAfter time.Time, password string) []byte {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate RSA key: %v", err)
	}

	template := x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject: pkix.Name{
			CommonName:   "Clinica Exemplo LTDA",
			Organization: []string{"Clinica Exemplo"},
			Country:      []string{"BR"},
		},
		NotBefore:             notBefore,
		NotAfter:              notAfter,
		KeyUsage:              x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	crt, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parse certificate: %v", err)
	}

	p12, err := pkcs12.Modern.Encode(key, crt, nil, password)
	if err != nil {
		t.Fatalf("encode pkcs12: %v", err)
	}
	return p12
}

// ValidP12 gera um contêiner válido por um ano a partir de agora.
func ValidP12(t *testing.T, password string) []byte {
	t.Helper()
	now := time.Now()
	return P12(t, now.Add(-time.Hour), now.AddDate(1, 0, 0), password)
}

// ExpiredP12 gera um contêiner cujo certificado expirou há um ano.
func ExpiredP12(t *testing.T, password string) []byte {
	t.Helper()
	now := time.Now()
	return P12(t, now.AddDate(-2, 0, 0), now.AddDate(-1, 0, 0), password)
}

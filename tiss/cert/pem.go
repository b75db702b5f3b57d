package cert

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"

	"github.com/youmark/pkcs8"

	"github.com/clinicbr/go-tiss-client/tiss"
)

// loadPEM aceita material A1 entregue como PEM: um bloco CERTIFICATE mais um
// bloco ENCRYPTED PRIVATE KEY (PKCS#8) ou PRIVATE KEY. O primeiro bloco de
// cada tipo encontrado é usado.
func loadPEM(pemBytes, password []byte) (*Certificate, error) {
	var (
		leaf  *x509.Certificate
		chain []*x509.Certificate
		key   *rsa.PrivateKey
	)

	rest := pemBytes
	for len(rest) > 0 {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}

		switch block.Type {
		case "CERTIFICATE":
			c, err := x509.ParseCertificate(block.Bytes)
			if err != nil {
				return nil, &tiss.SigningError{Op: "parse pem certificate", Err: err}
			}
			if leaf == nil {
				leaf = c
			} else {
				chain = append(chain, c)
			}

		case "ENCRYPTED PRIVATE KEY":
			if key != nil {
				continue
			}
			if len(password) == 0 {
				return nil, &tiss.CertificateError{Reason: tiss.CertInvalidPassword}
			}
			keyAny, err := pkcs8.ParsePKCS8PrivateKey(block.Bytes, password)
			if err != nil {
				// senha errada e DER corrompido são indistinguíveis aqui;
				// tratamos como senha inválida, o caso de longe mais comum
				return nil, &tiss.CertificateError{Reason: tiss.CertInvalidPassword}
			}
			k, ok := keyAny.(*rsa.PrivateKey)
			if !ok {
				return nil, &tiss.SigningError{
					Op:  "pem key type",
					Err: fmt.Errorf("expected RSA private key, got %T", keyAny),
				}
			}
			key = k

		case "PRIVATE KEY":
			if key != nil {
				continue
			}
			keyAny, err := x509.ParsePKCS8PrivateKey(block.Bytes)
			if err != nil {
				return nil, &tiss.SigningError{Op: "parse pkcs8 key", Err: err}
			}
			k, ok := keyAny.(*rsa.PrivateKey)
			if !ok {
				return nil, &tiss.SigningError{
					Op:  "pem key type",
					Err: fmt.Errorf("expected RSA private key, got %T", keyAny),
				}
			}
			key = k
		}
	}

	if leaf == nil || key == nil {
		return nil, &tiss.SigningError{
			Op:  "parse pem",
			Err: fmt.Errorf("PEM material must contain CERTIFICATE and PRIVATE KEY blocks"),
		}
	}

	return &Certificate{key: key, cert: leaf, chain: chain}, nil
}

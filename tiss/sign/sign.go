// Package sign implementa a assinatura digital envelopada (XML-DSig) exigida
// pela ANS: canonicalização xml-c14n sem comentários, digest SHA-256,
// assinatura RSA-SHA256 e certificado X.509 embutido no bloco KeyInfo.
//
// A chave privada e a senha existem apenas durante a chamada de assinatura;
// nenhum dos dois é logado ou persistido, em qualquer caminho de saída.
package sign

import (
	"crypto"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/beevik/etree"
	dsig "github.com/russellhaering/goxmldsig"
	"github.com/sirupsen/logrus"

	"github.com/clinicbr/go-tiss-client/tiss"
	"github.com/clinicbr/go-tiss-client/tiss/cert"
)

var logger = logrus.WithField("component", "tiss.sign")

// Hash devolve o digest SHA-256 da forma canônica (xml-c14n 2001, sem
// comentários) do documento, em hexadecimal minúsculo. Determinístico para
// conteúdo byte a byte idêntico; usado na assinatura e na trilha de
// auditoria.
func Hash(doc []byte) (string, error) {
	d := etree.NewDocument()
	if err := d.ReadFromBytes(doc); err != nil {
		return "", &tiss.SigningError{Op: "parse XML", Err: err}
	}
	root := d.Root()
	if root == nil {
		return "", &tiss.SigningError{Op: "parse XML", Err: errNoRoot}
	}

	canon, err := dsig.MakeC14N10RecCanonicalizer().Canonicalize(root)
	if err != nil {
		return "", &tiss.SigningError{Op: "canonicalize", Err: err}
	}

	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:]), nil
}

// Sign produz o documento assinado: o elemento Signature é inserido como
// último filho da raiz (transformação envelopada) e todo o conteúdo original
// fora do bloco de assinatura permanece inalterado. A operação é atômica;
// qualquer falha devolve erro sem documento parcial.
//
// O documento de entrada pode declarar qualquer prefixo de namespace (ans:,
// tiss:, ...); o motor não assume prefixo específico.
func Sign(doc, p12 []byte, password string) (string, error) {
	crt, err := cert.Load(p12, password)
	if err != nil {
		return "", err
	}
	if err := crt.Valid(time.Now()); err != nil {
		return "", err
	}
	return SignWithCertificate(doc, crt)
}

// SignWithCertificate assina com um certificado já carregado e validado pela
// fronteira de certificados (carga com limite por clínica).
func SignWithCertificate(doc []byte, crt *cert.Certificate) (string, error) {
	d := etree.NewDocument()
	if err := d.ReadFromBytes(doc); err != nil {
		return "", &tiss.SigningError{Op: "parse XML", Err: err}
	}
	root := d.Root()
	if root == nil {
		return "", &tiss.SigningError{Op: "parse XML", Err: errNoRoot}
	}

	sctx := dsig.NewDefaultSigningContext(crt)
	sctx.Hash = crypto.SHA256
	sctx.Canonicalizer = dsig.MakeC14N10RecCanonicalizer()

	signed, err := sctx.SignEnveloped(root)
	if err != nil {
		return "", &tiss.SigningError{Op: "sign enveloped", Err: err}
	}

	// troca apenas a raiz, preservando a declaração XML e o restante do
	// documento byte a byte
	d.SetRoot(signed)

	out, err := d.WriteToString()
	if err != nil {
		return "", &tiss.SigningError{Op: "serialize", Err: err}
	}

	logger.WithField("root", root.FullTag()).Debug("documento assinado")
	return out, nil
}

package sign

import (
	"errors"
	"fmt"

	"github.com/beevik/etree"

	"github.com/clinicbr/go-tiss-client/tiss"
)

var errNoRoot = errors.New("document has no root element")

// URIs exigidas pela receita XML-DSig da ANS.
const (
	c14nMethodURI      = "http://www.w3.org/TR/2001/REC-xml-c14n-20010315"
	rsaSHA256URI       = "http://www.w3.org/2001/04/xmldsig-more#rsa-sha256"
	sha256DigestURI    = "http://www.w3.org/2001/04/xmlenc#sha256"
	envelopedTransform = "http://www.w3.org/2000/09/xmldsig#enveloped-signature"
)

// VerifyStructure confere o contrato de formato do documento assinado:
// exatamente um elemento Signature como último filho da raiz, com SignedInfo
// (métodos de canonicalização, assinatura e digest corretos, transformação
// envelopada), SignatureValue e KeyInfo/X509Certificate não vazios.
func VerifyStructure(signedXML string) error {
	d := etree.NewDocument()
	if err := d.ReadFromString(signedXML); err != nil {
		return &tiss.SigningError{Op: "parse signed XML", Err: err}
	}
	root := d.Root()
	if root == nil {
		return &tiss.SigningError{Op: "parse signed XML", Err: errNoRoot}
	}

	sigs := root.SelectElements("Signature")
	if len(sigs) != 1 {
		return fmt.Errorf("expected exactly one Signature element, found %d", len(sigs))
	}
	sig := sigs[0]

	children := root.ChildElements()
	if children[len(children)-1] != sig {
		return fmt.Errorf("Signature must be the last child of the document root")
	}

	si := sig.SelectElement("SignedInfo")
	if si == nil {
		return fmt.Errorf("missing SignedInfo")
	}

	if err := methodIs(si, "CanonicalizationMethod", c14nMethodURI); err != nil {
		return err
	}
	if err := methodIs(si, "SignatureMethod", rsaSHA256URI); err != nil {
		return err
	}

	ref := si.SelectElement("Reference")
	if ref == nil {
		return fmt.Errorf("missing SignedInfo/Reference")
	}
	if err := methodIs(ref, "DigestMethod", sha256DigestURI); err != nil {
		return err
	}

	foundEnveloped := false
	if transforms := ref.SelectElement("Transforms"); transforms != nil {
		for _, tr := range transforms.SelectElements("Transform") {
			if attrValue(tr, "Algorithm") == envelopedTransform {
				foundEnveloped = true
			}
		}
	}
	if !foundEnveloped {
		return fmt.Errorf("missing enveloped-signature transform")
	}

	dv := ref.SelectElement("DigestValue")
	if dv == nil || dv.Text() == "" {
		return fmt.Errorf("missing or empty DigestValue")
	}

	sv := sig.SelectElement("SignatureValue")
	if sv == nil || sv.Text() == "" {
		return fmt.Errorf("missing or empty SignatureValue")
	}

	x509El := sig.FindElement("./KeyInfo/X509Data/X509Certificate")
	if x509El == nil || x509El.Text() == "" {
		return fmt.Errorf("missing or empty KeyInfo/X509Certificate")
	}

	return nil
}

func methodIs(parent *etree.Element, tag, want string) error {
	el := parent.SelectElement(tag)
	if el == nil {
		return fmt.Errorf("missing %s", tag)
	}
	if got := attrValue(el, "Algorithm"); got != want {
		return fmt.Errorf("%s algorithm %q, want %q", tag, got, want)
	}
	return nil
}

func attrValue(el *etree.Element, key string) string {
	if a := el.SelectAttr(key); a != nil {
		return a.Value
	}
	return ""
}

package xmlgen

import (
	"time"

	"github.com/beevik/etree"
	"github.com/go-faster/errors"
	"github.com/sirupsen/logrus"

	"github.com/clinicbr/go-tiss-client/tiss"
	"github.com/clinicbr/go-tiss-client/tiss/model"
)

// BuildLoteXML monta o envelope mensagemTISS do lote embutindo o XML já
// gerado de cada guia. Todas as guias devem pertencer à mesma operadora e
// já ter passado pela geração individual.
func BuildLoteXML(lote *model.Lote, guias []*model.Guia, v tiss.Version, now time.Time) (string, error) {
	if len(guias) == 0 {
		return "", &tiss.SchemaValidationError{Field: "loteGuias", Detail: "lote sem guias"}
	}

	for _, g := range guias {
		if g.RegistroANS != lote.RegistroANS {
			return "", &tiss.SchemaValidationError{
				Field:  "registroANS",
				Detail: "todas as guias do lote devem pertencer à mesma operadora",
			}
		}
		if g.XML == "" {
			return "", &tiss.SchemaValidationError{
				Field:  "guiasTISS",
				Detail: "guia sem XML gerado: " + g.Numero,
			}
		}
	}

	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	root := doc.CreateElement("ans:mensagemTISS")
	root.CreateAttr("xmlns:ans", v.Namespace())

	cab := root.CreateElement("ans:cabecalho")
	trans := cab.CreateElement("ans:identificacaoTransacao")
	trans.CreateElement("ans:tipoTransacao").SetText("ENVIO_LOTE_GUIAS")
	trans.CreateElement("ans:sequencialTransacao").SetText(lote.NumeroTransacao)
	trans.CreateElement("ans:dataRegistroTransacao").SetText(now.Format(dateLayout))
	trans.CreateElement("ans:horaRegistroTransacao").SetText(now.Format(timeLayout))
	cab.CreateElement("ans:registroANS").SetText(lote.RegistroANS)
	cab.CreateElement("ans:versaoPadrao").SetText(v.String())

	prestador := root.CreateElement("ans:prestadorParaOperadora")
	loteEl := prestador.CreateElement("ans:loteGuias")
	loteEl.CreateElement("ans:numeroLote").SetText(lote.ID)

	guiasEl := loteEl.CreateElement("ans:guiasTISS")
	for _, g := range guias {
		inner := etree.NewDocument()
		if err := inner.ReadFromString(g.XML); err != nil {
			return "", errors.Wrapf(err, "reparse XML da guia %s", g.Numero)
		}
		guiaRoot := inner.Root()
		if guiaRoot == nil {
			return "", errors.Errorf("guia %s: documento XML vazio", g.Numero)
		}
		guiasEl.AddChild(guiaRoot.Copy())
	}

	doc.Indent(2)
	out, err := doc.WriteToString()
	if err != nil {
		return "", errors.Wrap(err, "serialize lote XML")
	}

	logger.WithFields(logrus.Fields{
		"lote":  lote.ID,
		"guias": len(guias),
	}).Debug("XML do lote gerado")

	return out, nil
}

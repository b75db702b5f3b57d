// Package xmlgen monta os documentos XML do padrão TISS a partir dos dados
// estruturados da guia. A montagem valida os invariantes monetários em
// centavos inteiros e falha na primeira violação, sem coerção silenciosa.
package xmlgen

import (
	"fmt"

	"github.com/beevik/etree"
	"github.com/go-faster/errors"
	"github.com/sirupsen/logrus"

	"github.com/clinicbr/go-tiss-client/tiss"
	"github.com/clinicbr/go-tiss-client/tiss/model"
	"github.com/clinicbr/go-tiss-client/tiss/util"
)

var logger = logrus.WithField("component", "tiss.xmlgen")

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04:05"
)

// rootTag devolve o elemento raiz do tipo de guia. Consulta e SP/SADT têm
// esquema próprio; os demais tipos usam o layout SADT com marcador de raiz
// específico.
func rootTag(t model.GuiaType) (string, error) {
	switch t {
	case model.GuiaConsulta:
		return "ans:guiaConsulta", nil
	case model.GuiaSADT:
		return "ans:guiaSP-SADT", nil
	case model.GuiaInternacao:
		return "ans:guiaResumoInternacao", nil
	case model.GuiaHonorarios:
		return "ans:guiaHonorarioIndividual", nil
	case model.GuiaAnexo:
		return "ans:guiaAnexo", nil
	}
	return "", fmt.Errorf("tipo de guia desconhecido: %q", t)
}

// BuildGuiaXML gera o documento XML da guia na ordenação de elementos da ANS:
// cabeçalho, corpo com bloco do beneficiário, linhas de procedimento e
// rodapé de totais.
func BuildGuiaXML(g *model.Guia, v tiss.Version) (string, error) {
	if err := validateGuia(g); err != nil {
		return "", err
	}

	tag, err := rootTag(g.Tipo)
	if err != nil {
		return "", errors.Wrap(err, "build guia")
	}

	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	root := doc.CreateElement(tag)
	root.CreateAttr("xmlns:ans", v.Namespace())

	cab := root.CreateElement("ans:cabecalhoGuia")
	cab.CreateElement("ans:registroANS").SetText(g.RegistroANS)
	cab.CreateElement("ans:numeroGuiaPrestador").SetText(g.Numero)
	cab.CreateElement("ans:versaoPadrao").SetText(v.String())

	corpo := root.CreateElement("ans:corpo")

	ben := corpo.CreateElement("ans:dadosBeneficiario")
	ben.CreateElement("ans:numeroCarteira").SetText(g.Beneficiario.NumeroCarteira)
	ben.CreateElement("ans:nomeBeneficiario").SetText(g.Beneficiario.Nome)
	rn := "N"
	if g.Beneficiario.RecemNascido {
		rn = "S"
	}
	ben.CreateElement("ans:atendimentoRN").SetText(rn)

	corpo.CreateElement("ans:dataAtendimento").SetText(g.DataAtendim.Format(dateLayout))

	procs := corpo.CreateElement("ans:procedimentosExecutados")
	for _, p := range g.Procedimentos {
		pe := procs.CreateElement("ans:procedimentoExecutado")
		pe.CreateElement("ans:codigoProcedimento").SetText(p.Codigo)
		if p.Descricao != "" {
			pe.CreateElement("ans:descricaoProcedimento").SetText(p.Descricao)
		}
		pe.CreateElement("ans:quantidadeExecutada").SetText(fmt.Sprintf("%d", p.Quantidade))
		pe.CreateElement("ans:valorUnitario").SetText(util.CentsToAmount(p.ValorUnitario))
		pe.CreateElement("ans:valorTotal").SetText(util.CentsToAmount(p.ValorTotal))
	}

	corpo.CreateElement("ans:valorTotalGeral").SetText(util.CentsToAmount(g.ValorTotal))

	doc.Indent(2)
	out, err := doc.WriteToString()
	if err != nil {
		return "", errors.Wrap(err, "serialize guia XML")
	}

	logger.WithFields(logrus.Fields{
		"guia": g.Numero,
		"tipo": g.Tipo,
	}).Debug("XML da guia gerado")

	return out, nil
}

// validateGuia aplica as regras estruturais na ordem do documento e devolve
// a primeira violação encontrada.
func validateGuia(g *model.Guia) error {
	if g.RegistroANS == "" {
		return &tiss.SchemaValidationError{Field: "registroANS", Detail: "registro ANS da operadora ausente"}
	}
	if g.Beneficiario.NumeroCarteira == "" {
		return &tiss.SchemaValidationError{Field: "numeroCarteira", Detail: "número da carteira do beneficiário ausente"}
	}
	if len(g.Procedimentos) == 0 {
		return &tiss.SchemaValidationError{Field: "procedimentosExecutados", Detail: "a guia exige ao menos um procedimento"}
	}

	var soma int64
	for i, p := range g.Procedimentos {
		if p.Codigo == "" {
			return &tiss.SchemaValidationError{
				Field:  fmt.Sprintf("procedimentos[%d].codigoProcedimento", i),
				Detail: "código do procedimento ausente",
			}
		}
		if p.Quantidade <= 0 {
			return &tiss.SchemaValidationError{
				Field:  fmt.Sprintf("procedimentos[%d].quantidadeExecutada", i),
				Detail: "quantidade deve ser positiva",
			}
		}
		if p.ValorTotal != p.Quantidade*p.ValorUnitario {
			return &tiss.SchemaValidationError{
				Field:  fmt.Sprintf("procedimentos[%d].valorTotal", i),
				Detail: "valor total do item difere de quantidade × valor unitário",
			}
		}
		soma += p.ValorTotal
	}

	if g.ValorTotal != soma {
		return &tiss.SchemaValidationError{
			Field:  "valorTotalGeral",
			Detail: "valor total da guia difere da soma dos itens",
		}
	}

	return nil
}

// Package glosa reconcilia as respostas de negativa da operadora: extrai a
// glosa da resposta XML (ou de entrada já estruturada), atribui motivos por
// item com catálogo fixo, deriva o prazo de recurso e calcula estatísticas
// de recuperação.
//
// O parser trabalha sobre a árvore XML tipada (etree), nunca sobre varredura
// de texto: a ordem dos elementos e o prefixo de namespace da operadora não
// importam.
package glosa

import (
	"time"

	"github.com/beevik/etree"
	"github.com/go-faster/errors"
	"github.com/sirupsen/logrus"

	"github.com/clinicbr/go-tiss-client/tiss/model"
	"github.com/clinicbr/go-tiss-client/tiss/util"
)

var logger = logrus.WithField("component", "tiss.glosa")

const dateLayout = "2006-01-02"

// Parse extrai uma Glosa da resposta XML da operadora. Sempre devolve uma
// glosa cujos itens somam exatamente o valor glosado do topo: quando a
// resposta não expõe itens mas nega valor, um item genérico é sintetizado em
// vez de descartar a discrepância monetária.
func Parse(payload []byte) (*model.Glosa, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(payload); err != nil {
		return nil, errors.Wrap(err, "parse glosa XML")
	}
	root := doc.Root()
	if root == nil {
		return nil, errors.New("resposta de glosa sem elemento raiz")
	}

	g := &model.Glosa{
		Status:   model.GlosaPendente,
		TipoGuia: inferGuiaType(root),
	}

	g.NumeroGuia = firstText(root, "numeroGuiaPrestador", "numeroGuiaOperadora", "numeroGuia")
	if g.NumeroGuia == "" {
		return nil, errors.New("resposta de glosa sem número de guia")
	}

	g.RegistroANS = firstText(root, "registroANS")

	if ds := firstText(root, "dataRecebimento", "dataProcessamento", "dataEmissao"); ds != "" {
		d, err := time.Parse(dateLayout, ds)
		if err != nil {
			return nil, errors.Wrapf(err, "data da glosa %q", ds)
		}
		g.DataRecebimento = d
	}

	var err error
	g.ValorOriginal, err = topLevelAmount(root, "valorInformado", "valorApresentado", "valorOriginal")
	if err != nil {
		return nil, err
	}
	g.ValorGlosado, err = topLevelAmount(root, "valorGlosa", "valorGlosado")
	if err != nil {
		return nil, err
	}

	for _, el := range append(root.FindElements("//itemGlosado"), root.FindElements("//procedimentoGlosado")...) {
		item := model.ItemGlosado{
			CodigoProcedimento: firstText(el, "codigoProcedimento", "codigoItem"),
			CodigoMotivo:       firstText(el, "codigoGlosa", "codigoMotivo"),
		}
		if item.ValorGlosado, err = firstAmount(el, "valorGlosa", "valorGlosado"); err != nil {
			return nil, err
		}
		item.Descricao = Motivo(item.CodigoMotivo).Descricao
		g.Itens = append(g.Itens, item)
	}

	Normalize(g)

	logger.WithFields(logrus.Fields{
		"guia":  g.NumeroGuia,
		"itens": len(g.Itens),
	}).Debug("glosa extraída da resposta da operadora")

	return g, nil
}

// Normalize garante os invariantes de uma glosa, seja ela extraída de XML ou
// recebida já estruturada: soma dos itens reconcilia com o valor glosado do
// topo e todo item carrega descrição do catálogo.
func Normalize(g *model.Glosa) {
	if g.Status == "" {
		g.Status = model.GlosaPendente
	}

	var soma int64
	for i := range g.Itens {
		if g.Itens[i].Descricao == "" {
			g.Itens[i].Descricao = Motivo(g.Itens[i].CodigoMotivo).Descricao
		}
		soma += g.Itens[i].ValorGlosado
	}

	switch {
	case len(g.Itens) == 0 && g.ValorGlosado > 0:
		// sem itens explícitos: sintetiza um item genérico cobrindo todo o
		// valor negado
		g.Itens = append(g.Itens, model.ItemGlosado{
			CodigoProcedimento: "",
			ValorGlosado:       g.ValorGlosado,
			CodigoMotivo:       codigoOutros,
			Descricao:          Motivo(codigoOutros).Descricao,
		})

	case soma < g.ValorGlosado:
		// resíduo não detalhado pela operadora vira item genérico
		g.Itens = append(g.Itens, model.ItemGlosado{
			ValorGlosado: g.ValorGlosado - soma,
			CodigoMotivo: codigoOutros,
			Descricao:    Motivo(codigoOutros).Descricao,
		})

	case soma > g.ValorGlosado:
		// itens mais detalhados que o topo: o topo passa a valer a soma
		g.ValorGlosado = soma
	}
}

// inferGuiaType deduz o tipo da guia pelos marcadores de elemento presentes.
func inferGuiaType(root *etree.Element) model.GuiaType {
	if root.Tag == "guiaSP-SADT" || root.FindElement("//guiaSP-SADT") != nil {
		return model.GuiaSADT
	}
	if root.Tag == "guiaResumoInternacao" || root.FindElement("//guiaResumoInternacao") != nil {
		return model.GuiaInternacao
	}
	if root.Tag == "guiaHonorarioIndividual" || root.FindElement("//guiaHonorarioIndividual") != nil {
		return model.GuiaHonorarios
	}
	return model.GuiaConsulta
}

// firstText devolve o texto do primeiro elemento encontrado entre as tags
// candidatas, em qualquer profundidade e namespace.
func firstText(scope *etree.Element, tags ...string) string {
	for _, tag := range tags {
		if el := scope.FindElement(".//" + tag); el != nil {
			return el.Text()
		}
		if scope.Tag == tag {
			return scope.Text()
		}
	}
	return ""
}

// firstAmount extrai o primeiro valor monetário entre as tags candidatas,
// tolerando vírgula como separador decimal.
func firstAmount(scope *etree.Element, tags ...string) (int64, error) {
	for _, tag := range tags {
		el := scope.FindElement(".//" + tag)
		if el == nil || el.Text() == "" {
			continue
		}
		cents, err := util.ParseAmountToCents(el.Text())
		if err != nil {
			return 0, errors.Wrapf(err, "valor monetário inválido em <%s>", tag)
		}
		return cents, nil
	}
	return 0, nil
}

// topLevelAmount busca o valor monetário do topo da resposta, ignorando
// ocorrências da mesma tag dentro dos blocos de item glosado.
func topLevelAmount(root *etree.Element, tags ...string) (int64, error) {
	for _, tag := range tags {
		for _, el := range root.FindElements("//" + tag) {
			if insideItem(el, root) || el.Text() == "" {
				continue
			}
			cents, err := util.ParseAmountToCents(el.Text())
			if err != nil {
				return 0, errors.Wrapf(err, "valor monetário inválido em <%s>", tag)
			}
			return cents, nil
		}
	}
	return 0, nil
}

func insideItem(el, root *etree.Element) bool {
	for p := el.Parent(); p != nil && p != root; p = p.Parent() {
		if p.Tag == "itemGlosado" || p.Tag == "procedimentoGlosado" {
			return true
		}
	}
	return false
}

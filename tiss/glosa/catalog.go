package glosa

// MotivoGlosa descreve um código de glosa do catálogo ANS com a ação
// recomendada para a equipe da clínica.
type MotivoGlosa struct {
	Codigo          string
	Descricao       string
	AcaoRecomendada string
}

// codigoOutros é o coringa para códigos fora do catálogo.
const codigoOutros = "9999"

// catalogo é a tabela fixa de motivos de glosa. Imutável: construída uma vez
// e consultada apenas por Motivo.
var catalogo = map[string]MotivoGlosa{
	"1001": {
		Codigo:          "1001",
		Descricao:       "Cobrança em duplicidade",
		AcaoRecomendada: "Verificar se o procedimento já foi faturado em guia anterior",
	},
	"1201": {
		Codigo:          "1201",
		Descricao:       "Procedimento não coberto pelo contrato",
		AcaoRecomendada: "Conferir a tabela contratada da operadora antes de recorrer",
	},
	"1705": {
		Codigo:          "1705",
		Descricao:       "Valor cobrado acima da tabela contratada",
		AcaoRecomendada: "Ajustar o valor unitário à tabela vigente e recorrer da diferença",
	},
	"1801": {
		Codigo:          "1801",
		Descricao:       "Ausência de autorização prévia",
		AcaoRecomendada: "Anexar a autorização ao recurso ou solicitar autorização retroativa",
	},
	"2001": {
		Codigo:          "2001",
		Descricao:       "Beneficiário com carteira inválida ou inativa",
		AcaoRecomendada: "Confirmar a elegibilidade do beneficiário na data do atendimento",
	},
	"2508": {
		Codigo:          "2508",
		Descricao:       "Quantidade executada acima da autorizada",
		AcaoRecomendada: "Recorrer com justificativa clínica para a quantidade excedente",
	},
	codigoOutros: {
		Codigo:          codigoOutros,
		Descricao:       "Outros motivos",
		AcaoRecomendada: "Analisar a descrição da operadora e abrir recurso manual",
	},
}

// Motivo devolve a entrada do catálogo para o código; código desconhecido
// cai no coringa "outros" em vez de falhar.
func Motivo(codigo string) MotivoGlosa {
	if m, ok := catalogo[codigo]; ok {
		return m
	}
	return catalogo[codigoOutros]
}

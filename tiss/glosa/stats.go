package glosa

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/clinicbr/go-tiss-client/tiss/model"
)

// Stats agrega o resultado financeiro de um conjunto de glosas.
type Stats struct {
	TotalGlosas       int          `json:"totalGlosas"`
	ValorTotal        int64        `json:"valorTotal"`
	ValorRecuperado   int64        `json:"valorRecuperado"`
	TaxaRecuperacao   float64      `json:"taxaRecuperacao"`
	PrincipaisMotivos []MotivoStat `json:"principaisMotivos"`
}

// MotivoStat acumula um motivo de glosa no ranking por valor.
type MotivoStat struct {
	Codigo      string `json:"codigo"`
	Descricao   string `json:"descricao"`
	ValorTotal  int64  `json:"valorTotal"`
	Ocorrencias int    `json:"ocorrencias"`
}

// CalculateStats computa valor total glosado, valor recuperado (aprovado das
// glosas resolvidas), taxa de recuperação percentual e o ranking de motivos
// por valor. Empates mantêm a ordem de inserção.
func CalculateStats(glosas []*model.Glosa) Stats {
	stats := Stats{PrincipaisMotivos: []MotivoStat{}}

	byCode := make(map[string]int)

	for _, g := range glosas {
		stats.TotalGlosas++
		stats.ValorTotal += g.ValorGlosado

		if g.Status == model.GlosaResolvida {
			stats.ValorRecuperado += g.ValorAprovado()
		}

		for _, item := range g.Itens {
			code := item.CodigoMotivo
			if code == "" {
				code = codigoOutros
			}
			idx, seen := byCode[code]
			if !seen {
				byCode[code] = len(stats.PrincipaisMotivos)
				stats.PrincipaisMotivos = append(stats.PrincipaisMotivos, MotivoStat{
					Codigo:    code,
					Descricao: Motivo(code).Descricao,
				})
				idx = byCode[code]
			}
			stats.PrincipaisMotivos[idx].ValorTotal += item.ValorGlosado
			stats.PrincipaisMotivos[idx].Ocorrencias++
		}
	}

	if stats.ValorTotal > 0 {
		taxa := decimal.NewFromInt(stats.ValorRecuperado).
			Div(decimal.NewFromInt(stats.ValorTotal)).
			Mul(decimal.NewFromInt(100)).
			Round(2)
		stats.TaxaRecuperacao = taxa.InexactFloat64()
	}

	// ordenação estável preserva a ordem de inserção nos empates
	sort.SliceStable(stats.PrincipaisMotivos, func(i, j int) bool {
		return stats.PrincipaisMotivos[i].ValorTotal > stats.PrincipaisMotivos[j].ValorTotal
	})

	return stats
}

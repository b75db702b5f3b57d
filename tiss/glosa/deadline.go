package glosa

import (
	"math"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/clinicbr/go-tiss-client/tiss/model"
)

// AppealDeadlineDays é o prazo de recurso da convenção TISS, em dias
// corridos a partir do recebimento da glosa.
const AppealDeadlineDays = 30

// AppealDeadline deriva o prazo final de recurso. Nunca armazenado: sempre
// recalculado de DataRecebimento.
func AppealDeadline(g *model.Glosa) time.Time {
	return g.DataRecebimento.AddDate(0, 0, AppealDeadlineDays)
}

// IsWithinAppealDeadline é verdadeira do dia do recebimento até o trigésimo
// dia, inclusive.
func IsWithinAppealDeadline(g *model.Glosa, clock clockwork.Clock) bool {
	return !clock.Now().After(AppealDeadline(g))
}

// DaysToAppealDeadline devolve os dias corridos restantes; negativo quando o
// prazo já passou. O arredondamento é sempre para baixo: qualquer fração de
// dia além do prazo já conta como -1, nunca como 0.
func DaysToAppealDeadline(g *model.Glosa, clock clockwork.Clock) int {
	hours := AppealDeadline(g).Sub(clock.Now()).Hours()
	return int(math.Floor(hours / 24))
}

package util

import (
	"os"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

var logger = logrus.WithField("component", "tiss.util")

func DebugEnabled() bool {
	return etb("TISS_DEBUG")
}

func HttpTraceEnabled() bool {
	return etb("TISS_HTTP_TRACE")
}

func etb(envName string) bool {
	v, ok := os.LookupEnv(envName)
	if !ok {
		return false
	}

	bv, err := strconv.ParseBool(v)

	return err == nil && bv
}

func GetEnvOrFailed(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok {
		logger.Fatal(key, " environment variable is not set")
	}
	return v
}

// CentsToAmount formata centavos como valor decimal com duas casas,
// ponto como separador, conforme o esquema TISS ("15000" -> "150.00").
func CentsToAmount(cents int64) string {
	return decimal.NewFromInt(cents).Div(decimal.NewFromInt(100)).StringFixed(2)
}

// ParseAmountToCents aceita valores com vírgula ou ponto decimal
// ("1.234,56", "1234.56", "150,00") e devolve centavos.
func ParseAmountToCents(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if strings.Contains(s, ",") {
		// formato brasileiro: ponto é separador de milhar
		s = strings.ReplaceAll(s, ".", "")
		s = strings.ReplaceAll(s, ",", ".")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, err
	}
	return d.Mul(decimal.NewFromInt(100)).Round(0).IntPart(), nil
}

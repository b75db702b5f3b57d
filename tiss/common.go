package tiss

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

var logger = logrus.WithField("component", "tiss")

type clinicKey struct{}
type actorKey struct{}
type versionKey struct{}

// Context devolve um contexto com o identificador da clínica (partição multi-tenant).
func Context(ctx context.Context, clinicID string) context.Context {
	return context.WithValue(ctx, clinicKey{}, clinicID)
}

// ContextWithActor registra quem executa a operação, para fins de auditoria.
func ContextWithActor(ctx context.Context, clinicID, actor string) context.Context {
	c := context.WithValue(ctx, clinicKey{}, clinicID)
	return context.WithValue(c, actorKey{}, actor)
}

func ContextWithVersion(ctx context.Context, clinicID string, v Version) context.Context {
	c := context.WithValue(ctx, clinicKey{}, clinicID)
	return context.WithValue(c, versionKey{}, v)
}

func ClinicFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(clinicKey{}).(string)
	return v, ok
}

func ActorFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(actorKey{}).(string)
	return v, ok
}

func VersionFromContext(ctx context.Context) (Version, bool) {
	v, ok := ctx.Value(versionKey{}).(Version)
	return v, ok
}

var (
	ErrNoClinic = errors.New("no clinic id in context.Context")
)

// Version seleciona o esquema TISS usado na geração do XML.
type Version int

const (
	V305 Version = iota
	V402
)

func (v *Version) String() string {
	switch *v {
	case V305:
		return "3.05.00"
	case V402:
		return "4.02.00"
	}
	panic("Invalid TISS version")
}

// Namespace do padrão ANS, o mesmo para as versões suportadas.
func (v *Version) Namespace() string {
	return "http://www.ans.gov.br/padroes/tiss/schemas"
}

func (v *Version) UnmarshalText(text []byte) error {
	val := strings.ToLower(strings.TrimSpace(string(text)))

	switch val {
	case "3.05", "3.05.00":
		*v = V305
	case "4.02", "4.02.00":
		*v = V402
	default:
		return fmt.Errorf("invalid TISS_VERSION: %q (allowed: 3.05, 4.02)", val)
	}
	return nil
}

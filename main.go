package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/clinicbr/go-tiss-client/tiss"
	"github.com/clinicbr/go-tiss-client/tiss/api"
	"github.com/clinicbr/go-tiss-client/tiss/cert"
	"github.com/clinicbr/go-tiss-client/tiss/glosa"
	"github.com/clinicbr/go-tiss-client/tiss/guia"
	"github.com/clinicbr/go-tiss-client/tiss/lote"
	"github.com/clinicbr/go-tiss-client/tiss/model"
	"github.com/clinicbr/go-tiss-client/tiss/store"
	"github.com/clinicbr/go-tiss-client/tiss/util"
)

func main() {

	logrus.SetLevel(logrus.DebugLevel)

	clinica := util.GetEnvOrFailed("TISS_CLINICA")
	certPath := util.GetEnvOrFailed("TISS_CERT_PFX")
	certSenha := util.GetEnvOrFailed("TISS_CERT_SENHA")
	endpoint := util.GetEnvOrFailed("TISS_OPERADORA_ENDPOINT")

	p12, err := os.ReadFile(certPath)
	if err != nil {
		panic(err)
	}

	ctx := tiss.ContextWithActor(context.Background(), clinica, "exemplo")

	clock := clockwork.NewRealClock()
	st := store.NewMemoryStore()
	certs := cert.NewStore(clock, 30)
	guias := guia.NewManager(st, certs, clock)

	operadoras := lote.StaticDirectory{
		"123456": {
			RegistroANS: "123456",
			Nome:        "Operadora Exemplo",
			Endpoint:    endpoint,
		},
	}

	lotes := lote.NewManager(st, guias, certs, api.New(15*time.Second), operadoras, clock,
		lote.WithMaxAttempts(3),
		lote.WithBackoff(2*time.Second),
	)

	g := &model.Guia{
		Numero: "000001",
		Tipo:   model.GuiaConsulta,
		Beneficiario: model.Beneficiario{
			Nome:           "Maria Silva",
			NumeroCarteira: "123456",
		},
		DataAtendim: time.Now(),
		Procedimentos: []model.Procedimento{
			{Codigo: "10101012", Quantidade: 1, ValorUnitario: 15000, ValorTotal: 15000},
		},
		RegistroANS: "123456",
	}

	if err := guias.Create(ctx, g); err != nil {
		panic(err)
	}
	if _, err := guias.GenerateXML(ctx, g.Numero, tiss.V305); err != nil {
		panic(err)
	}
	if _, err := guias.SignGuia(ctx, g.Numero, p12, certSenha); err != nil {
		panic(err)
	}
	if _, err := guias.Enqueue(ctx, g.Numero); err != nil {
		panic(err)
	}

	l, err := lotes.Build(ctx, "123456", []string{g.Numero})
	if err != nil {
		panic(err)
	}

	res, err := lotes.Submit(ctx, l.ID, p12, certSenha)
	if err != nil {
		panic(err)
	}
	fmt.Println("lote:", l.ID, "status:", res.Status, "protocolo:", res.Protocolo)

	// exemplo de reconciliação de uma glosa recebida da operadora
	resposta := []byte(`<?xml version="1.0" encoding="UTF-8"?>
<ans:situacaoGuia xmlns:ans="http://www.ans.gov.br/padroes/tiss/schemas">
  <ans:numeroGuiaPrestador>000001</ans:numeroGuiaPrestador>
  <ans:dataRecebimento>` + time.Now().Format("2006-01-02") + `</ans:dataRecebimento>
  <ans:valorInformado>150,00</ans:valorInformado>
  <ans:valorGlosa>30,00</ans:valorGlosa>
</ans:situacaoGuia>`)

	gl, err := glosa.Parse(resposta)
	if err != nil {
		panic(err)
	}

	if _, err := guias.RegisterGlosa(ctx, gl); err != nil {
		panic(err)
	}

	stats := glosa.CalculateStats([]*model.Glosa{gl})
	fmt.Printf("glosas: %d, valor glosado: %s, taxa de recuperação: %.2f%%\n",
		stats.TotalGlosas, util.CentsToAmount(stats.ValorTotal), stats.TaxaRecuperacao)

	for _, m := range stats.PrincipaisMotivos {
		fmt.Printf("  motivo %s (%s): %s\n", m.Codigo, m.Descricao, util.CentsToAmount(m.ValorTotal))
	}
}

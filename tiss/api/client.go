// Package api fala com o canal de recepção de lotes da operadora. O
// transporte real fica atrás desta fronteira: o gerente de lotes só precisa
// distinguir falha de transporte (retryable) de rejeição da operadora
// (terminal).
package api

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"

	"github.com/clinicbr/go-tiss-client/tiss/util"
)

var logger = logrus.WithField("component", "tiss.api")

type Client interface {
	// PostTISSXML envia o XML assinado do lote para o endpoint da operadora.
	// Falha de transporte devolve *TransportError; resposta HTTP de erro
	// devolve *RequestError.
	PostTISSXML(ctx context.Context, endpoint string, body []byte) (*OperatorResponse, error)
}

// OperatorResponse é a resposta crua do canal de recepção.
type OperatorResponse struct {
	StatusCode int
	Body       []byte
}

type client struct {
	rest *resty.Client
}

// New cria o cliente com timeout explícito: as chamadas à operadora são os
// únicos pontos de suspensão do subsistema e nunca ficam sem limite.
func New(timeout time.Duration) Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	restyClient := resty.New().SetTimeout(timeout)
	return &client{rest: restyClient}
}

func (c *client) PostTISSXML(ctx context.Context, endpoint string, body []byte) (*OperatorResponse, error) {
	r := c.rest.R().SetContext(ctx)
	if util.HttpTraceEnabled() {
		r.EnableTrace()
	}

	resp, err := r.
		SetBody(body).
		SetHeader("Content-Type", "text/xml; charset=utf-8").
		Post(endpoint)

	if err != nil {
		// não houve resposta da operadora: transporte, retryable
		return nil, &TransportError{Err: err}
	}

	printTraceInfo(endpoint, err, resp)

	if resp.IsError() {
		return nil, &RequestError{
			StatusCode: resp.StatusCode(),
			Body:       resp.String(),
		}
	}

	return &OperatorResponse{
		StatusCode: resp.StatusCode(),
		Body:       resp.Body(),
	}, nil
}

func printTraceInfo(endpoint string, err error, resp *resty.Response) {

	if !util.HttpTraceEnabled() {
		return
	}

	fmt.Println("Response Info:")
	fmt.Println("  URL        :", endpoint)
	fmt.Println("  Error      :", err)
	fmt.Println("  Status Code:", resp.StatusCode())
	fmt.Println("  Status     :", resp.Status())
	fmt.Println("  Time       :", resp.Time())
	fmt.Println("  Received At:", resp.ReceivedAt())

	ti := resp.Request.TraceInfo()
	fmt.Println("Request Trace Info:")
	fmt.Println("  DNSLookup     :", ti.DNSLookup)
	fmt.Println("  ConnTime      :", ti.ConnTime)
	fmt.Println("  TLSHandshake  :", ti.TLSHandshake)
	fmt.Println("  ServerTime    :", ti.ServerTime)
	fmt.Println("  ResponseTime  :", ti.ResponseTime)
	fmt.Println("  TotalTime     :", ti.TotalTime)
}

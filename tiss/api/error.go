package api

import "fmt"

// RequestError é uma rejeição em nível de aplicação pela operadora (HTTP
// 4xx/5xx com resposta). Terminal: não adianta reenviar sem correção.
type RequestError struct {
	StatusCode int
	Body       string
}

func (r *RequestError) Error() string {
	return fmt.Sprintf("operadora rejeitou o envio: status %d: %s", r.StatusCode, r.Body)
}

// TransportError é uma falha de rede ou timeout antes de qualquer resposta
// definitiva da operadora. Retryable.
type TransportError struct {
	Err error
}

func (t *TransportError) Error() string {
	return fmt.Sprintf("falha de transporte com a operadora: %v", t.Err)
}

func (t *TransportError) Unwrap() error { return t.Err }

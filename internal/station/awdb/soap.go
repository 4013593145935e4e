package awdb

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/i474232898/pow-tracker/internal/station"
)

const (
	soapEnvelopeNS = "http://schemas.xmlsoap.org/soap/envelope/"
	awdbNS         = "http://www.wcc.nrcs.usda.gov/ns/awdbWebService"

	// maxResponseBytes bounds a single SOAP response body.
	maxResponseBytes = 32 << 20
)

var (
	errServerError  = errors.New("server error")
	errUnexpected   = errors.New("unexpected status code")
	errCircuitOpen  = errors.New("circuit breaker open")
	errSOAPFault    = errors.New("soap fault")
	errNoHTTPClient = errors.New("http client not configured")
)

type requestEnvelope struct {
	XMLName xml.Name    `xml:"soapenv:Envelope"`
	SoapNS  string      `xml:"xmlns:soapenv,attr"`
	AwdbNS  string      `xml:"xmlns:q0,attr"`
	Body    requestBody `xml:"soapenv:Body"`
}

type requestBody struct {
	Payload interface{}
}

type responseEnvelope struct {
	XMLName xml.Name `xml:"Envelope"`
	Body    struct {
		Fault *soapFault `xml:"Fault"`
		Inner []byte     `xml:",innerxml"`
	} `xml:"Body"`
}

type soapFault struct {
	Code   string `xml:"faultcode"`
	String string `xml:"faultstring"`
}

func (f *soapFault) Error() string {
	return fmt.Sprintf("%s: %s", strings.TrimSpace(f.Code), strings.TrimSpace(f.String))
}

func newBreaker() *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "awdb",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     2 * time.Minute,
	})
}

func marshalEnvelope(payload interface{}) ([]byte, error) {
	env := requestEnvelope{
		SoapNS: soapEnvelopeNS,
		AwdbNS: awdbNS,
		Body:   requestBody{Payload: payload},
	}
	out, err := xml.Marshal(env)
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), out...), nil
}

// call posts one SOAP operation and decodes the body of the response into
// resp. Transport failures, non-2xx statuses, faults and an open breaker are
// reported as station.ErrServiceUnavailable; undecodable bodies as
// station.ErrMalformedResponse. There are no retries.
func (c *Client) call(ctx context.Context, op string, req, resp interface{}) error {
	body, err := marshalEnvelope(req)
	if err != nil {
		return fmt.Errorf("%w: encode %s: %v", station.ErrInvalidQuery, op, err)
	}

	exec := func() (interface{}, error) {
		return c.roundTrip(ctx, body)
	}

	var result interface{}
	if c.breaker != nil {
		result, err = c.breaker.Execute(exec)
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = fmt.Errorf("%w: %v", errCircuitOpen, err)
		}
	} else {
		result, err = exec()
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %v", station.ErrServiceUnavailable, op, err)
	}

	payload, ok := result.([]byte)
	if !ok {
		return fmt.Errorf("%w: %s: unexpected result type from circuit breaker", station.ErrServiceUnavailable, op)
	}

	var env responseEnvelope
	if err := xml.Unmarshal(payload, &env); err != nil {
		return fmt.Errorf("%w: %s envelope: %v", station.ErrMalformedResponse, op, err)
	}
	if env.Body.Fault != nil {
		return fmt.Errorf("%w: %s: %w: %v", station.ErrServiceUnavailable, op, errSOAPFault, env.Body.Fault)
	}
	if err := xml.Unmarshal(env.Body.Inner, resp); err != nil {
		return fmt.Errorf("%w: %s body: %v", station.ErrMalformedResponse, op, err)
	}
	return nil
}

func (c *Client) roundTrip(ctx context.Context, body []byte) ([]byte, error) {
	if c.http == nil {
		return nil, errNoHTTPClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	req.Header.Set("SOAPAction", `""`)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, err
	}

	// Faults arrive with a 500 status; surface the fault text when present.
	if resp.StatusCode >= 500 {
		var env responseEnvelope
		if xml.Unmarshal(payload, &env) == nil && env.Body.Fault != nil {
			return nil, fmt.Errorf("%w: %v", errSOAPFault, env.Body.Fault)
		}
		return nil, fmt.Errorf("%w: %d", errServerError, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: %d", errUnexpected, resp.StatusCode)
	}
	return payload, nil
}

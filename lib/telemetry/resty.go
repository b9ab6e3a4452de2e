package telemetry

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/semconv/v1.13.0/httpconv"
	"go.opentelemetry.io/otel/trace"
)

// response bodies are whole calendar pages, only the head is kept on the span
const maxBodyAttribute = 4096

type restyInstrument struct {
	tracer  trace.Tracer
	secrets []string
}

// InstrumentResty opens a span per request. Every occurrence of one of
// secrets (eg. a bot token embedded in the url path) is redacted from
// the recorded attributes.
func InstrumentResty(client *resty.Client, tracerName string, secrets ...string) {
	inst := restyInstrument{
		tracer: otel.Tracer(tracerName),
	}
	for _, s := range secrets {
		if s != "" {
			inst.secrets = append(inst.secrets, s)
		}
	}

	client.OnBeforeRequest(inst.onBeforeRequest)
	client.OnAfterResponse(inst.onAfterResponse)
	client.OnError(inst.onError)
}

func (i restyInstrument) redact(s string) string {
	for _, secret := range i.secrets {
		s = strings.ReplaceAll(s, secret, "<redacted>")
	}
	return s
}

func (i restyInstrument) redactAll(attrs []attribute.KeyValue) []attribute.KeyValue {
	if len(i.secrets) == 0 {
		return attrs
	}
	out := make([]attribute.KeyValue, len(attrs))
	for idx, a := range attrs {
		if a.Value.Type() == attribute.STRING {
			a.Value = attribute.StringValue(i.redact(a.Value.AsString()))
		}
		out[idx] = a
	}
	return out
}

func truncate(s string) string {
	if len(s) <= maxBodyAttribute {
		return s
	}
	return s[:maxBodyAttribute] + fmt.Sprintf("... (%d bytes)", len(s))
}

func (i restyInstrument) onBeforeRequest(cli *resty.Client, req *resty.Request) error {
	ctx, _ := i.tracer.Start(req.Context(), req.Method)
	req.SetContext(ctx)
	return nil
}

func instrumentHeaders(out *[]attribute.KeyValue, prefix string, headers http.Header) {
	for header, values := range headers {
		if len(values) == 1 {
			*out = append(*out, attribute.KeyValue{
				Key:   attribute.Key(fmt.Sprintf("%s/header: %s", prefix, header)),
				Value: attribute.StringValue(values[0]),
			})
			continue
		}
		for i, v := range values {
			*out = append(*out, attribute.KeyValue{
				Key:   attribute.Key(fmt.Sprintf("%s/header: %s (%d)", prefix, header, i)),
				Value: attribute.StringValue(v),
			})
		}
	}
}

func requestBody(req *http.Request) string {
	if req == nil || req.GetBody == nil {
		return ""
	}
	reqbodyReader, err := req.GetBody()
	if err != nil {
		return fmt.Sprintf("failed to get request body: %s", err.Error())
	}
	if reqbodyReader == nil {
		return ""
	}
	reqbody, err := io.ReadAll(reqbodyReader)
	if err != nil {
		return fmt.Sprintf("failed to read request body: %s", err.Error())
	}
	return string(reqbody)
}

func (i restyInstrument) onAfterResponse(_ *resty.Client, res *resty.Response) error {
	span := trace.SpanFromContext(res.Request.Context())
	defer span.End()

	// setting request attributes here since res.Request.RawRequest is nil in onBeforeRequest
	span.SetName(fmt.Sprintf("http %s", res.Request.Method))

	var attrs []attribute.KeyValue
	attrs = append(attrs, httpconv.ClientResponse(res.RawResponse)...)
	attrs = append(attrs, httpconv.ClientRequest(res.Request.RawRequest)...)
	instrumentHeaders(&attrs, "request", res.Request.Header)
	instrumentHeaders(&attrs, "response", res.Header())
	attrs = append(attrs,
		attribute.String("request/body", truncate(requestBody(res.Request.RawRequest))),
		attribute.String("response/body", truncate(res.String())),
	)
	span.SetAttributes(i.redactAll(attrs)...)

	if res.IsError() {
		span.SetStatus(codes.Error, res.Status())
	}
	return nil
}

func (i restyInstrument) onError(req *resty.Request, err error) {
	span := trace.SpanFromContext(req.Context())
	defer span.End()

	span.RecordError(errors.New(i.redact(err.Error())))
	span.SetStatus(codes.Error, i.redact(err.Error()))
	span.SetName(fmt.Sprintf("http %s", req.Method))

	var attrs []attribute.KeyValue
	instrumentHeaders(&attrs, "request", req.Header)
	if req.RawRequest != nil {
		attrs = append(attrs, httpconv.ClientRequest(req.RawRequest)...)
		attrs = append(attrs, attribute.String("request/body", truncate(requestBody(req.RawRequest))))
	}
	span.SetAttributes(i.redactAll(attrs)...)
}

package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	comms "github.com/nats-io/nats.go"

	"github.com/morezero/approuter/pkg/apperr"
	"github.com/morezero/approuter/pkg/commsutil"
	"github.com/morezero/approuter/pkg/reqctx"
)

const remoteLogPrefix = "service:remote"

// snippetLen bounds the body excerpt kept on HTML responses.
const snippetLen = 120

// RemoteParams configures a service whose methods run behind a COMMS subject.
type RemoteParams struct {
	Conn    *comms.Conn
	Subject string
	// Service is the name sent in the envelope; it may differ from the local name.
	Service string
	Methods []string
}

// Remote builds methods that forward each call over COMMS request/reply
// using the service envelope. Remote failures keep their kind.
func Remote(params RemoteParams) Methods {
	out := make(Methods, len(params.Methods))
	for _, m := range params.Methods {
		out[m] = MethodDef{
			Handler:     remoteHandler(params.Conn, params.Subject, params.Service, m),
			Description: fmt.Sprintf("remote %s.%s on %s", params.Service, m, params.Subject),
		}
	}
	return out
}

func remoteHandler(nc *comms.Conn, subject, service, method string) HandlerFunc {
	return func(ctx context.Context, params map[string]any, rc *reqctx.RequestContext) (map[string]any, error) {
		rawParams, err := json.Marshal(params)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindValidation, err, "params are not JSON-serializable")
		}

		req := commsutil.ServiceRequest{
			ID:      uuid.NewString(),
			Type:    commsutil.TypeInvoke,
			Service: service,
			Method:  method,
			Params:  rawParams,
			Ctx:     invocationContext(ctx, rc),
		}
		payload, err := commsutil.EncodePayload(req)
		if err != nil {
			return nil, fmt.Errorf("%s - failed to encode request: %w", remoteLogPrefix, err)
		}

		msg, err := nc.RequestWithContext(ctx, subject, payload)
		if err != nil {
			switch {
			case ctx.Err() != nil:
				return nil, ctx.Err()
			case errors.Is(err, comms.ErrNoResponders):
				return nil, apperr.Wrap(apperr.KindUpstream, err, fmt.Sprintf("no responders on %s", subject))
			case errors.Is(err, comms.ErrTimeout):
				return nil, apperr.Wrap(apperr.KindTimeout, err, fmt.Sprintf("%s.%s timed out", service, method))
			}
			return nil, apperr.Wrap(apperr.KindUpstream, err, fmt.Sprintf("request to %s failed", subject))
		}

		var resp commsutil.ServiceResponse
		if err := commsutil.DecodePayload(msg.Data, &resp); err != nil {
			if apperr.LooksLikeHTML(string(msg.Data)) {
				return nil, &apperr.HTMLResponseError{ContentType: msg.Header.Get("Content-Type"), Snippet: snippet(msg.Data)}
			}
			return nil, fmt.Errorf("%s - failed to decode response from %s: %w", remoteLogPrefix, subject, err)
		}
		if !resp.Ok {
			return nil, commsutil.ErrorFromDetail(resp.Error)
		}
		if resp.Result == nil {
			return map[string]any{}, nil
		}
		return resp.Result, nil
	}
}

func invocationContext(ctx context.Context, rc *reqctx.RequestContext) *commsutil.InvocationContext {
	ic := &commsutil.InvocationContext{TraceID: rc.Trace()}
	if d, ok := ctx.Deadline(); ok {
		ic.DeadlineMs = d.UnixMilli()
	}
	return ic
}

// HTTPParams configures a service whose methods are JSON endpoints.
type HTTPParams struct {
	Client  *http.Client
	BaseURL string
	Methods []string
}

// HTTP builds methods that POST params as JSON to BaseURL/<method>.
func HTTP(params HTTPParams) Methods {
	client := params.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	base := strings.TrimRight(params.BaseURL, "/")
	out := make(Methods, len(params.Methods))
	for _, m := range params.Methods {
		out[m] = MethodDef{
			Handler:     httpHandler(client, base+"/"+m),
			Description: fmt.Sprintf("POST %s/%s", base, m),
		}
	}
	return out
}

func httpHandler(client *http.Client, endpoint string) HandlerFunc {
	return func(ctx context.Context, params map[string]any, rc *reqctx.RequestContext) (map[string]any, error) {
		body, err := json.Marshal(params)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindValidation, err, "params are not JSON-serializable")
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("%s - failed to build request: %w", remoteLogPrefix, err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		if trace := rc.Trace(); trace != "" {
			req.Header.Set("X-Trace-Id", trace)
		}

		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, apperr.Wrap(apperr.KindUpstream, err, fmt.Sprintf("request to %s failed", endpoint))
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
		if err != nil {
			return nil, apperr.Wrap(apperr.KindUpstream, err, "failed to read response body")
		}

		ct := resp.Header.Get("Content-Type")
		if strings.Contains(strings.ToLower(ct), "text/html") {
			return nil, &apperr.HTMLResponseError{ContentType: ct, Snippet: snippet(data)}
		}

		if resp.StatusCode >= 400 {
			return nil, httpFailure(resp.StatusCode, data, endpoint)
		}

		out := map[string]any{}
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, fmt.Errorf("%s - invalid JSON from %s: %w", remoteLogPrefix, endpoint, err)
		}
		return out, nil
	}
}

// httpFailure maps an error status onto the taxonomy. The remote body's
// error and code are kept for kinds that expose their message.
func httpFailure(status int, data []byte, endpoint string) *apperr.Error {
	var body struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	_ = json.Unmarshal(data, &body)
	msg := body.Error
	if msg == "" {
		msg = fmt.Sprintf("%s returned %d", endpoint, status)
	}

	var kind apperr.Kind
	switch {
	case status == http.StatusNotFound:
		kind = apperr.KindDomain
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		kind = apperr.KindValidation
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		kind = apperr.KindAuth
	case status == http.StatusGatewayTimeout || status == http.StatusRequestTimeout:
		kind = apperr.KindTimeout
	default:
		kind = apperr.KindUpstream
	}

	e := apperr.New(kind, msg).WithDetails(map[string]any{"status": status})
	if body.Code != "" {
		e = e.WithCode(body.Code)
	}
	return e
}

func snippet(data []byte) string {
	s := strings.TrimSpace(string(data))
	if len(s) > snippetLen {
		s = s[:snippetLen]
	}
	return s
}

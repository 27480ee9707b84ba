package commsutil

import (
	"testing"
)

func TestDecodePayload_Envelope(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr bool
		check   func(t *testing.T, req ServiceRequest)
	}{
		{
			name: "invoke with context",
			data: `{"id":"1","type":"invoke","service":"users","method":"get","params":{"id":"7"},"ctx":{"traceId":"t-1","timeoutMs":250}}`,
			check: func(t *testing.T, req ServiceRequest) {
				if req.Service != "users" || req.Method != "get" {
					t.Errorf("commsutil:codec_test - got %s.%s, want users.get", req.Service, req.Method)
				}
				if req.Ctx == nil || req.Ctx.TimeoutMs != 250 {
					t.Errorf("commsutil:codec_test - ctx not decoded: %+v", req.Ctx)
				}
			},
		},
		{
			name: "params stay raw until dispatch",
			data: `{"service":"users","method":"get","params":[1,2]}`,
			check: func(t *testing.T, req ServiceRequest) {
				if string(req.Params) != "[1,2]" {
					t.Errorf("commsutil:codec_test - params = %s", req.Params)
				}
				if req.Ctx != nil {
					t.Errorf("commsutil:codec_test - missing ctx should stay nil")
				}
			},
		},
		{name: "invalid json", data: `{invalid}`, wantErr: true},
		{name: "empty data", data: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var req ServiceRequest
			err := DecodePayload([]byte(tt.data), &req)
			if tt.wantErr {
				if err == nil {
					t.Fatal("commsutil:codec_test - expected error but got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("commsutil:codec_test - unexpected error: %v", err)
			}
			tt.check(t, req)
		})
	}
}

func TestEncodePayload_OmitsEmptyFields(t *testing.T) {
	data, err := EncodePayload(ServiceResponse{ID: "1", Ok: true})
	if err != nil {
		t.Fatalf("commsutil:codec_test - unexpected error: %v", err)
	}
	if got := string(data); got != `{"id":"1","ok":true}` {
		t.Errorf("commsutil:codec_test - EncodePayload() = %s", got)
	}

	if _, err := EncodePayload(map[string]any{"ch": make(chan int)}); err == nil {
		t.Error("commsutil:codec_test - expected error for unserializable value")
	}
}

func TestDecodeParams(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantLen int
		wantErr bool
	}{
		{name: "missing", raw: "", wantLen: 0},
		{name: "null", raw: " null ", wantLen: 0},
		{name: "object", raw: `{"id":"7","tab":"profile"}`, wantLen: 2},
		{name: "array", raw: `[1,2]`, wantErr: true},
		{name: "string", raw: `"x"`, wantErr: true},
		{name: "broken object", raw: `{"id":`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeParams([]byte(tt.raw))
			if tt.wantErr {
				if err == nil {
					t.Fatal("commsutil:codec_test - expected error but got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("commsutil:codec_test - unexpected error: %v", err)
			}
			if got == nil {
				t.Fatal("commsutil:codec_test - expected non-nil map")
			}
			if len(got) != tt.wantLen {
				t.Errorf("commsutil:codec_test - len = %d, want %d", len(got), tt.wantLen)
			}
		})
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	original := ServiceRequest{
		ID:      "req-1",
		Type:    TypeInvoke,
		Service: "users",
		Method:  "get",
		Params:  []byte(`{"id":"7"}`),
		Ctx:     &InvocationContext{TraceID: "trace-0001", TimeoutMs: 500},
	}

	data, err := EncodePayload(original)
	if err != nil {
		t.Fatalf("commsutil:codec_test - encode failed: %v", err)
	}

	var decoded ServiceRequest
	if err := DecodePayload(data, &decoded); err != nil {
		t.Fatalf("commsutil:codec_test - decode failed: %v", err)
	}

	if decoded.Service != "users" || decoded.Method != "get" {
		t.Errorf("commsutil:codec_test - got %s.%s, want users.get", decoded.Service, decoded.Method)
	}
	if decoded.Ctx == nil || decoded.Ctx.TraceID != "trace-0001" {
		t.Errorf("commsutil:codec_test - trace id lost: %+v", decoded.Ctx)
	}
	params, err := DecodeParams(decoded.Params)
	if err != nil {
		t.Fatalf("commsutil:codec_test - params decode failed: %v", err)
	}
	if params["id"] != "7" {
		t.Errorf("commsutil:codec_test - params[id] = %v, want 7", params["id"])
	}
}

// Package transport connects the controller to the privileged helper: a
// websocket over a unix-domain socket carrying protobuf Struct envelopes.
package transport

import (
	"errors"
	"fmt"
	"math"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/lakshaymaurya-felt/monolingual/internal/progress"
	"github.com/lakshaymaurya-felt/monolingual/internal/request"
)

// Message types. request and cancel flow to the helper, the rest back.
const (
	TypeRequest = "request"
	TypeCancel  = "cancel"
	TypeStarted = "started"
	TypeEvent   = "event"
	TypeDone    = "done"
	TypeError   = "error"
)

// Error codes carried by error messages.
const (
	codeUnauthorized = "unauthorized"
	codeProtocol     = "protocol"
	codeInternal     = "internal"
)

var (
	// ErrHelperDisconnected is returned when the channel to the helper is
	// lost before the run finished.
	ErrHelperDisconnected = errors.New("helper disconnected")
	// ErrUnauthorized is returned when the peer may not run the request.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrProtocol is returned for malformed or unexpected messages.
	ErrProtocol = errors.New("protocol error")
	// ErrHelper wraps failures reported by the helper itself.
	ErrHelper = errors.New("helper error")
)

// envelope is one framed message.
type envelope struct {
	Type string
	Body *structpb.Struct
}

func marshalEnvelope(typ string, body *structpb.Struct) ([]byte, error) {
	if body == nil {
		body = &structpb.Struct{Fields: map[string]*structpb.Value{}}
	}
	return proto.Marshal(&structpb.Struct{Fields: map[string]*structpb.Value{
		"type": structpb.NewStringValue(typ),
		"body": structpb.NewStructValue(body),
	}})
}

func unmarshalEnvelope(data []byte) (envelope, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(data, &s); err != nil {
		return envelope{}, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	typ, ok := s.Fields["type"].GetKind().(*structpb.Value_StringValue)
	if !ok {
		return envelope{}, fmt.Errorf("%w: message without type", ErrProtocol)
	}
	env := envelope{Type: typ.StringValue, Body: s.Fields["body"].GetStructValue()}
	if env.Body == nil {
		env.Body = &structpb.Struct{Fields: map[string]*structpb.Value{}}
	}
	return env, nil
}

// ─── Request ─────────────────────────────────────────────────────────────────

func requestMessage(req *request.HelperRequest) ([]byte, error) {
	return marshalEnvelope(TypeRequest, request.Encode(req))
}

// ─── Events ──────────────────────────────────────────────────────────────────

func eventToStruct(e progress.Event) *structpb.Struct {
	f := map[string]*structpb.Value{
		"seq":        structpb.NewNumberValue(float64(e.Seq)),
		"runId":      structpb.NewStringValue(e.RunID),
		"path":       structpb.NewStringValue(e.Path),
		"kind":       structpb.NewStringValue(e.Kind),
		"action":     structpb.NewStringValue(string(e.Action)),
		"status":     structpb.NewStringValue(string(e.Status)),
		"bytes":      structpb.NewNumberValue(float64(e.Bytes)),
		"discovered": structpb.NewNumberValue(float64(e.Discovered)),
		"dryRun":     structpb.NewBoolValue(e.DryRun),
	}
	if e.Language != "" {
		f["language"] = structpb.NewStringValue(e.Language)
	}
	if e.BundleID != "" {
		f["bundleId"] = structpb.NewStringValue(e.BundleID)
	}
	if e.Message != "" {
		f["message"] = structpb.NewStringValue(e.Message)
	}
	if len(e.Architectures) > 0 {
		archs := make([]*structpb.Value, len(e.Architectures))
		for i, a := range e.Architectures {
			archs[i] = structpb.NewStringValue(a)
		}
		f["architectures"] = structpb.NewListValue(&structpb.ListValue{Values: archs})
	}
	return &structpb.Struct{Fields: f}
}

func eventFromStruct(s *structpb.Struct) (progress.Event, error) {
	e := progress.Event{
		Seq:        uint64(number(s, "seq")),
		RunID:      str(s, "runId"),
		Path:       str(s, "path"),
		Kind:       str(s, "kind"),
		Action:     progress.Action(str(s, "action")),
		Status:     progress.Status(str(s, "status")),
		Bytes:      int64(number(s, "bytes")),
		Language:   str(s, "language"),
		BundleID:   str(s, "bundleId"),
		Message:    str(s, "message"),
		Discovered: uint64(number(s, "discovered")),
		DryRun:     s.GetFields()["dryRun"].GetBoolValue(),
	}
	for _, v := range s.GetFields()["architectures"].GetListValue().GetValues() {
		if a, ok := v.GetKind().(*structpb.Value_StringValue); ok {
			e.Architectures = append(e.Architectures, a.StringValue)
		}
	}
	if e.Path == "" || !e.Status.Valid() {
		return e, fmt.Errorf("%w: malformed event", ErrProtocol)
	}
	return e, nil
}

// ─── Summary ─────────────────────────────────────────────────────────────────

func summaryToStruct(s progress.Summary) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"runId":       structpb.NewStringValue(s.RunID),
		"removed":     structpb.NewNumberValue(float64(s.Removed)),
		"wouldRemove": structpb.NewNumberValue(float64(s.WouldRemove)),
		"skipped":     structpb.NewNumberValue(float64(s.Skipped)),
		"errored":     structpb.NewNumberValue(float64(s.Errored)),
		"bytes":       structpb.NewNumberValue(float64(s.Bytes)),
		"durationMs":  structpb.NewNumberValue(float64(s.Duration.Milliseconds())),
		"canceled":    structpb.NewBoolValue(s.Canceled),
		"dryRun":      structpb.NewBoolValue(s.DryRun),
	}}
}

func summaryFromStruct(s *structpb.Struct) progress.Summary {
	return progress.Summary{
		RunID:       str(s, "runId"),
		Removed:     int(number(s, "removed")),
		WouldRemove: int(number(s, "wouldRemove")),
		Skipped:     int(number(s, "skipped")),
		Errored:     int(number(s, "errored")),
		Bytes:       int64(number(s, "bytes")),
		Duration:    time.Duration(number(s, "durationMs")) * time.Millisecond,
		Canceled:    s.GetFields()["canceled"].GetBoolValue(),
		DryRun:      s.GetFields()["dryRun"].GetBoolValue(),
	}
}

// ─── Errors ──────────────────────────────────────────────────────────────────

func errorStruct(code string, err error) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"code":    structpb.NewStringValue(code),
		"message": structpb.NewStringValue(err.Error()),
	}}
}

func errorFromStruct(s *structpb.Struct) error {
	msg := str(s, "message")
	switch str(s, "code") {
	case codeUnauthorized:
		return fmt.Errorf("%w: %s", ErrUnauthorized, msg)
	case codeProtocol:
		return fmt.Errorf("%w: %s", ErrProtocol, msg)
	default:
		return fmt.Errorf("%w: %s", ErrHelper, msg)
	}
}

// str and number read typed fields; any other kind reads as zero.
func str(s *structpb.Struct, key string) string {
	if v, ok := s.GetFields()[key].GetKind().(*structpb.Value_StringValue); ok {
		return v.StringValue
	}
	return ""
}

func number(s *structpb.Struct, key string) float64 {
	v, ok := s.GetFields()[key].GetKind().(*structpb.Value_NumberValue)
	if !ok || math.IsNaN(v.NumberValue) || math.IsInf(v.NumberValue, 0) || v.NumberValue < 0 {
		return 0
	}
	return v.NumberValue
}

package protocol

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// The DFX websocket endpoints take protobuf-encoded request bodies. The
// messages are small and fixed, so they are encoded directly with
// protowire rather than generated code.
//
//	message Params  { string ID = 1; }
//	message DataRequest {
//	    Params Params    = 1;
//	    string ChunkOrder = 2;
//	    string Action     = 3;
//	    string StartTime  = 4;
//	    string EndTime    = 5;
//	    string Duration   = 6;
//	    bytes  Meta       = 7;
//	    bytes  Payload    = 8;
//	}
//	message SubscribeResultsRequest {
//	    Params Params    = 1;
//	    string RequestID = 2;
//	}

const (
	fieldParams = 1

	fieldParamsID = 1

	fieldChunkOrder = 2
	fieldAction     = 3
	fieldStartTime  = 4
	fieldEndTime    = 5
	fieldDuration   = 6
	fieldMeta       = 7
	fieldPayload    = 8

	fieldRequestID = 2
)

// ErrTruncatedBody reports a protobuf body that could not be parsed.
var ErrTruncatedBody = errors.New("protocol: truncated request body")

// DataRequest is the body of an add-data (0506) request.
type DataRequest struct {
	MeasurementID string
	ChunkOrder    string
	Action        string
	StartTime     string
	EndTime       string
	Duration      string
	Meta          []byte
	Payload       []byte
}

// Marshal serializes the request to protobuf wire format.
func (r *DataRequest) Marshal() []byte {
	var b []byte
	b = appendParams(b, r.MeasurementID)
	b = appendString(b, fieldChunkOrder, r.ChunkOrder)
	b = appendString(b, fieldAction, r.Action)
	b = appendString(b, fieldStartTime, r.StartTime)
	b = appendString(b, fieldEndTime, r.EndTime)
	b = appendString(b, fieldDuration, r.Duration)
	b = appendBytes(b, fieldMeta, r.Meta)
	b = appendBytes(b, fieldPayload, r.Payload)
	return b
}

// UnmarshalDataRequest parses an add-data body. Used by the mock server.
func UnmarshalDataRequest(data []byte) (*DataRequest, error) {
	r := &DataRequest{}
	err := walkFields(data, func(num protowire.Number, val []byte) error {
		switch num {
		case fieldParams:
			id, err := parseParams(val)
			if err != nil {
				return err
			}
			r.MeasurementID = id
		case fieldChunkOrder:
			r.ChunkOrder = string(val)
		case fieldAction:
			r.Action = string(val)
		case fieldStartTime:
			r.StartTime = string(val)
		case fieldEndTime:
			r.EndTime = string(val)
		case fieldDuration:
			r.Duration = string(val)
		case fieldMeta:
			r.Meta = append([]byte(nil), val...)
		case fieldPayload:
			r.Payload = append([]byte(nil), val...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// SubscribeResultsRequest is the body of a subscribe-results (0510)
// request.
type SubscribeResultsRequest struct {
	MeasurementID string
	RequestID     string
}

// Marshal serializes the request to protobuf wire format.
func (r *SubscribeResultsRequest) Marshal() []byte {
	var b []byte
	b = appendParams(b, r.MeasurementID)
	b = appendString(b, fieldRequestID, r.RequestID)
	return b
}

// UnmarshalSubscribeResultsRequest parses a subscribe body. Used by the
// mock server.
func UnmarshalSubscribeResultsRequest(data []byte) (*SubscribeResultsRequest, error) {
	r := &SubscribeResultsRequest{}
	err := walkFields(data, func(num protowire.Number, val []byte) error {
		switch num {
		case fieldParams:
			id, err := parseParams(val)
			if err != nil {
				return err
			}
			r.MeasurementID = id
		case fieldRequestID:
			r.RequestID = string(val)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

func appendParams(b []byte, id string) []byte {
	inner := appendString(nil, fieldParamsID, id)
	b = protowire.AppendTag(b, fieldParams, protowire.BytesType)
	return protowire.AppendBytes(b, inner)
}

func parseParams(data []byte) (string, error) {
	var id string
	err := walkFields(data, func(num protowire.Number, val []byte) error {
		if num == fieldParamsID {
			id = string(val)
		}
		return nil
	})
	return id, err
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

// walkFields iterates the length-delimited fields of a message, invoking
// fn for each. Non-bytes wire types are skipped.
func walkFields(data []byte, fn func(num protowire.Number, val []byte) error) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return ErrTruncatedBody
		}
		data = data[n:]

		if typ != protowire.BytesType {
			n = protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return ErrTruncatedBody
			}
			data = data[n:]
			continue
		}

		val, n := protowire.ConsumeBytes(data)
		if n < 0 {
			return ErrTruncatedBody
		}
		if err := fn(num, val); err != nil {
			return fmt.Errorf("protocol: field %d: %w", num, err)
		}
		data = data[n:]
	}
	return nil
}

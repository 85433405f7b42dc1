package transport

import (
	"math"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// Envelope is one message on the wire.
type Envelope struct {
	Context uint64
	Source  int
	Tag     int
	Data    []float64
}

const (
	fieldContext protowire.Number = 1
	fieldSource  protowire.Number = 2
	fieldTag     protowire.Number = 3
	fieldData    protowire.Number = 4
)

// MarshalEnvelope encodes env in protobuf wire format, with Data as a packed
// repeated double.
func MarshalEnvelope(env Envelope) []byte {
	b := make([]byte, 0, 32+8*len(env.Data))
	b = protowire.AppendTag(b, fieldContext, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, env.Context)
	b = protowire.AppendTag(b, fieldSource, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(env.Source))
	b = protowire.AppendTag(b, fieldTag, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(env.Tag))
	if len(env.Data) > 0 {
		packed := make([]byte, 0, 8*len(env.Data))
		for _, v := range env.Data {
			packed = protowire.AppendFixed64(packed, math.Float64bits(v))
		}
		b = protowire.AppendTag(b, fieldData, protowire.BytesType)
		b = protowire.AppendBytes(b, packed)
	}
	return b
}

// UnmarshalEnvelope decodes an envelope produced by MarshalEnvelope.
// Unknown fields are skipped.
func UnmarshalEnvelope(b []byte) (Envelope, error) {
	var env Envelope
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return env, errors.Wrap(protowire.ParseError(n), "envelope tag")
		}
		b = b[n:]

		switch {
		case num == fieldContext && typ == protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return env, errors.Wrap(protowire.ParseError(n), "envelope context")
			}
			env.Context = v
			b = b[n:]
		case num == fieldSource && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return env, errors.Wrap(protowire.ParseError(n), "envelope source")
			}
			env.Source = int(v)
			b = b[n:]
		case num == fieldTag && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return env, errors.Wrap(protowire.ParseError(n), "envelope tag value")
			}
			env.Tag = int(v)
			b = b[n:]
		case num == fieldData && typ == protowire.BytesType:
			packed, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return env, errors.Wrap(protowire.ParseError(n), "envelope data")
			}
			if len(packed)%8 != 0 {
				return env, errors.Errorf("envelope data: %d bytes is not a whole number of doubles", len(packed))
			}
			env.Data = make([]float64, 0, len(packed)/8)
			for len(packed) > 0 {
				v, m := protowire.ConsumeFixed64(packed)
				env.Data = append(env.Data, math.Float64frombits(v))
				packed = packed[m:]
			}
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return env, errors.Wrap(protowire.ParseError(n), "envelope unknown field")
			}
			b = b[n:]
		}
	}
	return env, nil
}

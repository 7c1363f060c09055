package value

import (
	"fmt"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/ldclabs/anda-db/core"
)

// docZstdEncoderPool/docZstdDecoderPool amortize zstd encoder/decoder
// construction across the many small per-document Marshal/Unmarshal
// calls a collection makes, rather than paying setup cost per call.
var (
	docZstdEncoderPool sync.Pool
	docZstdDecoderPool sync.Pool
)

func getDocZstdEncoder() *zstd.Encoder {
	if v := docZstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func putDocZstdEncoder(enc *zstd.Encoder) { docZstdEncoderPool.Put(enc) }

func getDocZstdDecoder() *zstd.Decoder {
	if v := docZstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil)
	return dec
}

func putDocZstdDecoder(dec *zstd.Decoder) { docZstdDecoderPool.Put(dec) }

// encMode is the canonical CBOR encoder shared by every Marshal call in
// this package: deterministic map-key ordering and definite-length items,
// per spec §6 ("canonical CBOR encoding (deterministic map-key ordering,
// definite-length items)").
var encMode = func() cbor.EncMode {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Errorf("value: building canonical cbor encoder: %w", err))
	}
	return em
}()

var decMode = func() cbor.DecMode {
	dm, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		panic(fmt.Errorf("value: building cbor decoder: %w", err))
	}
	return dm
}()

// wireValue is the on-the-wire shape of a Value: a kind discriminant plus
// exactly the payload field relevant to that kind, so the encoded form
// never carries unused zero fields for the other ten shapes.
type wireValue struct {
	K uint8 `cbor:"k"`
	B bool  `cbor:"b,omitempty"`
	I int64 `cbor:"i,omitempty"`
	U uint64 `cbor:"u,omitempty"`
	F float64 `cbor:"f,omitempty"`
	S string `cbor:"s,omitempty"`
	Bytes []byte `cbor:"y,omitempty"`
	Vec   []float32 `cbor:"vec,omitempty"`
	Arr   []Value   `cbor:"a,omitempty"`
	M     map[string]Value `cbor:"m,omitempty"`
}

// MarshalCBOR implements cbor.Marshaler.
func (v Value) MarshalCBOR() ([]byte, error) {
	w := wireValue{K: uint8(v.Kind)}
	switch v.Kind {
	case KindBool:
		w.B = v.Bool
	case KindI64:
		w.I = v.I64
	case KindU64:
		w.U = v.U64
	case KindF32:
		w.F = float64(v.F32)
	case KindF64:
		w.F = v.F64
	case KindString:
		w.S = v.Str
	case KindBytes:
		w.Bytes = v.Bytes
	case KindVector:
		w.Vec = v.Vector
	case KindArray:
		w.Arr = v.Array
	case KindMap:
		w.M = v.Map
	case KindNull:
		// no payload
	}
	return encMode.Marshal(w)
}

// UnmarshalCBOR implements cbor.Unmarshaler.
func (v *Value) UnmarshalCBOR(data []byte) error {
	var w wireValue
	if err := decMode.Unmarshal(data, &w); err != nil {
		return err
	}
	kind := Kind(w.K)
	switch kind {
	case KindBool:
		*v = Bool(w.B)
	case KindI64:
		*v = I64(w.I)
	case KindU64:
		*v = U64(w.U)
	case KindF32:
		*v = F32(float32(w.F))
	case KindF64:
		*v = F64(w.F)
	case KindString:
		*v = String(w.S)
	case KindBytes:
		*v = Bytes(w.Bytes)
	case KindVector:
		*v = Vector(w.Vec)
	case KindArray:
		*v = Array(w.Arr)
	case KindMap:
		*v = Map(w.M)
	default:
		*v = Null
	}
	return nil
}

// wireDocument mirrors Document's wire shape; ID is carried alongside the
// field map so a document blob is self-describing.
type wireDocument struct {
	ID     uint64           `cbor:"id"`
	Fields map[string]Value `cbor:"fields"`
}

// Marshal encodes a Document using the canonical CBOR encoder and
// zstd-compresses the result, matching the persisted document blob
// layout docs/<doc_id>.cbor.zst (spec §6).
func Marshal(d Document) ([]byte, error) {
	raw, err := encMode.Marshal(wireDocument{ID: uint64(d.ID), Fields: d.Fields})
	if err != nil {
		return nil, err
	}
	enc := getDocZstdEncoder()
	defer putDocZstdEncoder(enc)
	return enc.EncodeAll(raw, nil), nil
}

// Unmarshal decodes a Document previously produced by Marshal, reversing
// its zstd framing before decoding the canonical CBOR payload.
func Unmarshal(data []byte) (Document, error) {
	dec := getDocZstdDecoder()
	defer putDocZstdDecoder(dec)
	raw, err := dec.DecodeAll(data, nil)
	if err != nil {
		return Document{}, fmt.Errorf("value: zstd decode document: %w", err)
	}

	var w wireDocument
	if err := decMode.Unmarshal(raw, &w); err != nil {
		return Document{}, err
	}
	return Document{ID: core.DocID(w.ID), Fields: w.Fields}, nil
}

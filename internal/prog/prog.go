// Package prog defines the candidate input Prog and its self-describing
// binary corpus/crash-record encoding.
package prog

import (
	"bytes"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"

	"github.com/midfuzz/midfuzz/internal/schema"
)

// ItfKind enumerates which of the four endpoint kinds a Prog targets.
type ItfKind int

const (
	Topic ItfKind = iota
	Service
	Action
	Param
)

func (k ItfKind) String() string {
	switch k {
	case Topic:
		return "topic"
	case Service:
		return "service"
	case Action:
		return "action"
	case Param:
		return "param"
	default:
		return "unknown"
	}
}

// Prog is one candidate input: the endpoint it targets, the realized value
// tree, and the exact shell command derived from it. CallStream is the sole
// artifact transmitted to the target.
type Prog struct {
	ItfKind    ItfKind              `cbor:"1,keyasint"`
	ItfName    string               `cbor:"2,keyasint"`
	ItfType    string               `cbor:"3,keyasint"`
	ItfInfo    *schema.InterfaceVal `cbor:"4,keyasint"`
	CallStream string               `cbor:"5,keyasint"`
	Size       int                  `cbor:"6,keyasint"`
}

// encMode pins a deterministic, self-describing cbor encoding so repeated
// records concatenate into a single valid stream.
var encMode = func() cbor.EncMode {
	opts := cbor.CanonicalEncOptions()
	m, err := opts.EncMode()
	if err != nil {
		panic(err)
	}
	return m
}()

// Encode serializes p, first computing Size as the encoded length of
// ItfInfo alone so readers can sanity-check a record without decoding the
// whole thing.
func Encode(p *Prog) ([]byte, error) {
	infoBytes, err := encMode.Marshal(p.ItfInfo)
	if err != nil {
		return nil, fmt.Errorf("prog: encode itf_info: %w", err)
	}
	p.Size = len(infoBytes)
	out, err := encMode.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("prog: encode: %w", err)
	}
	return out, nil
}

// AppendToFile appends the encoded record to path, creating it if absent.
// Cbor records are self-describing, so concatenating multiple records into
// one file is a valid corpus/crash input stream.
func AppendToFile(path string, p *Prog) error {
	data, err := Encode(p)
	if err != nil {
		return err
	}
	return appendBytes(path, data)
}

// Decoder reads a sequence of concatenated Prog records from a stream.
type Decoder struct {
	dec *cbor.Decoder
}

// NewDecoder wraps r for sequential Prog decoding.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{dec: cbor.NewDecoder(r)}
}

// Next decodes the next record, returning io.EOF when the stream is
// exhausted.
func (d *Decoder) Next() (*Prog, error) {
	var p Prog
	if err := d.dec.Decode(&p); err != nil {
		return nil, err
	}
	return &p, nil
}

// DecodeAll reads every record from data.
func DecodeAll(data []byte) ([]*Prog, error) {
	dec := NewDecoder(bytes.NewReader(data))
	var out []*Prog
	for {
		p, err := dec.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return out, err
		}
		out = append(out, p)
	}
	return out, nil
}

// Package graphdef is the serialized form of a graph, as loaded from and
// saved to files or blob stores.
//
// Two encodings are supported. The binary encoding uses the protobuf wire
// format with this schema:
//
//	message GraphDef {
//	  repeated NodeDef node = 1;
//	}
//	message NodeDef {
//	  string name = 1;
//	  string op = 2;
//	  repeated string input = 3;
//	  string dtype = 4;
//	  repeated int64 shape = 5 [packed = true];
//	  repeated double values = 6 [packed = true];
//	  bool has_values = 7;
//	}
//
// The text encoding is HCL:
//
//	node "Placeholder" "x" {
//	  dtype = "int32"
//	}
//	node "Const" "ones" {
//	  dtype  = "int32"
//	  shape  = [1, 3]
//	  values = [1, 1, 1]
//	}
//	node "Add" "y" {
//	  inputs = ["x", "ones"]
//	}
package graphdef

import (
	"bytes"
	"path"
	"strings"
	"unicode/utf8"

	"github.com/pkg/errors"
)

// GraphDef is an ordered list of node definitions.
type GraphDef struct {
	Nodes []*NodeDef
}

// NodeDef describes one operation. Inputs refer to other nodes by name,
// always at output index 0.
type NodeDef struct {
	Name   string
	Op     string
	Inputs []string
	DType  string
	Shape  []int64

	// Values holds the Const payload. When HasValues is false the importer
	// fills the constant with ones.
	Values    []float64
	HasValues bool
}

// Format identifies an encoding.
type Format int

const (
	Binary Format = iota
	HCL
)

func (f Format) String() string {
	if f == HCL {
		return "hcl"
	}
	return "binary"
}

// FormatFor picks the encoding from the file name, falling back to sniffing
// the content.
func FormatFor(name string, data []byte) Format {
	switch strings.ToLower(path.Ext(name)) {
	case ".hcl":
		return HCL
	case ".pb", ".graphdef":
		return Binary
	}
	trimmed := bytes.TrimSpace(data)
	if utf8.Valid(trimmed) && (bytes.HasPrefix(trimmed, []byte("node")) || bytes.HasPrefix(trimmed, []byte("#")) || bytes.HasPrefix(trimmed, []byte("//"))) {
		return HCL
	}
	return Binary
}

// Decode parses data in whichever format FormatFor selects.
func Decode(name string, data []byte) (*GraphDef, error) {
	switch FormatFor(name, data) {
	case HCL:
		return DecodeHCL(name, data)
	default:
		return DecodeBinary(data)
	}
}

// Encode serializes def in the given format.
func Encode(def *GraphDef, format Format) ([]byte, error) {
	switch format {
	case HCL:
		return EncodeHCL(def)
	case Binary:
		return EncodeBinary(def), nil
	}
	return nil, errors.Errorf("unknown graph format %d", format)
}

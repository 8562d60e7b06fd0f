package graphdef

import (
	"math"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

const (
	fieldGraphNode = 1

	fieldNodeName      = 1
	fieldNodeOp        = 2
	fieldNodeInput     = 3
	fieldNodeDType     = 4
	fieldNodeShape     = 5
	fieldNodeValues    = 6
	fieldNodeHasValues = 7
)

// EncodeBinary serializes def in the protobuf wire format.
func EncodeBinary(def *GraphDef) []byte {
	var b []byte
	for _, n := range def.Nodes {
		b = protowire.AppendTag(b, fieldGraphNode, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeNode(n))
	}
	return b
}

func encodeNode(n *NodeDef) []byte {
	var b []byte
	b = appendString(b, fieldNodeName, n.Name)
	b = appendString(b, fieldNodeOp, n.Op)
	for _, in := range n.Inputs {
		b = protowire.AppendTag(b, fieldNodeInput, protowire.BytesType)
		b = protowire.AppendString(b, in)
	}
	b = appendString(b, fieldNodeDType, n.DType)
	if len(n.Shape) > 0 {
		var packed []byte
		for _, d := range n.Shape {
			packed = protowire.AppendVarint(packed, uint64(d))
		}
		b = protowire.AppendTag(b, fieldNodeShape, protowire.BytesType)
		b = protowire.AppendBytes(b, packed)
	}
	if len(n.Values) > 0 {
		var packed []byte
		for _, v := range n.Values {
			packed = protowire.AppendFixed64(packed, math.Float64bits(v))
		}
		b = protowire.AppendTag(b, fieldNodeValues, protowire.BytesType)
		b = protowire.AppendBytes(b, packed)
	}
	if n.HasValues {
		b = protowire.AppendTag(b, fieldNodeHasValues, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeBool(true))
	}
	return b
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

// DecodeBinary parses the protobuf wire format. Unknown fields are skipped.
func DecodeBinary(data []byte) (*GraphDef, error) {
	def := &GraphDef{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, errors.Wrap(protowire.ParseError(n), "reading graph field tag")
		}
		data = data[n:]

		if num == fieldGraphNode && typ == protowire.BytesType {
			msg, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, errors.Wrapf(protowire.ParseError(n), "reading node %d", len(def.Nodes))
			}
			node, err := decodeNode(msg)
			if err != nil {
				return nil, errors.Wrapf(err, "decoding node %d", len(def.Nodes))
			}
			def.Nodes = append(def.Nodes, node)
			data = data[n:]
			continue
		}

		n = protowire.ConsumeFieldValue(num, typ, data)
		if n < 0 {
			return nil, errors.Wrapf(protowire.ParseError(n), "skipping graph field %d", num)
		}
		data = data[n:]
	}
	return def, nil
}

func decodeNode(data []byte) (*NodeDef, error) {
	node := &NodeDef{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, errors.Wrap(protowire.ParseError(n), "reading field tag")
		}
		data = data[n:]

		switch {
		case num == fieldNodeName && typ == protowire.BytesType:
			node.Name, n = protowire.ConsumeString(data)
		case num == fieldNodeOp && typ == protowire.BytesType:
			node.Op, n = protowire.ConsumeString(data)
		case num == fieldNodeInput && typ == protowire.BytesType:
			var in string
			in, n = protowire.ConsumeString(data)
			node.Inputs = append(node.Inputs, in)
		case num == fieldNodeDType && typ == protowire.BytesType:
			node.DType, n = protowire.ConsumeString(data)

		case num == fieldNodeShape && typ == protowire.BytesType:
			var packed []byte
			packed, n = protowire.ConsumeBytes(data)
			for len(packed) > 0 {
				v, m := protowire.ConsumeVarint(packed)
				if m < 0 {
					return nil, errors.Wrap(protowire.ParseError(m), "reading shape")
				}
				node.Shape = append(node.Shape, int64(v))
				packed = packed[m:]
			}
		case num == fieldNodeShape && typ == protowire.VarintType:
			var v uint64
			v, n = protowire.ConsumeVarint(data)
			node.Shape = append(node.Shape, int64(v))

		case num == fieldNodeValues && typ == protowire.BytesType:
			var packed []byte
			packed, n = protowire.ConsumeBytes(data)
			for len(packed) > 0 {
				v, m := protowire.ConsumeFixed64(packed)
				if m < 0 {
					return nil, errors.Wrap(protowire.ParseError(m), "reading values")
				}
				node.Values = append(node.Values, math.Float64frombits(v))
				packed = packed[m:]
			}
		case num == fieldNodeValues && typ == protowire.Fixed64Type:
			var v uint64
			v, n = protowire.ConsumeFixed64(data)
			node.Values = append(node.Values, math.Float64frombits(v))

		case num == fieldNodeHasValues && typ == protowire.VarintType:
			var v uint64
			v, n = protowire.ConsumeVarint(data)
			node.HasValues = protowire.DecodeBool(v)

		default:
			n = protowire.ConsumeFieldValue(num, typ, data)
		}
		if n < 0 {
			return nil, errors.Wrapf(protowire.ParseError(n), "reading field %d", num)
		}
		data = data[n:]
	}
	if len(node.Values) > 0 {
		node.HasValues = true
	}
	return node, nil
}

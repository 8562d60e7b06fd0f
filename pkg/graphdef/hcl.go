package graphdef

import (
	"math"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/hashicorp/hcl/v2/hclwrite"
	"github.com/pkg/errors"
	"github.com/zclconf/go-cty/cty"
)

type hclFile struct {
	Nodes []*hclNode `hcl:"node,block"`
}

type hclNode struct {
	Op     string    `hcl:"op,label"`
	Name   string    `hcl:"name,label"`
	Inputs []string  `hcl:"inputs,optional"`
	DType  string    `hcl:"dtype,optional"`
	Shape  []int64   `hcl:"shape,optional"`
	Values []float64 `hcl:"values,optional"`
}

// DecodeHCL parses the HCL text encoding. filename is only used in diagnostics.
func DecodeHCL(filename string, data []byte) (*GraphDef, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(data, filename)
	if diags.HasErrors() {
		return nil, errors.Wrapf(diags, "parsing %s", filename)
	}

	var parsed hclFile
	if diags := gohcl.DecodeBody(file.Body, nil, &parsed); diags.HasErrors() {
		return nil, errors.Wrapf(diags, "decoding %s", filename)
	}

	def := &GraphDef{}
	for _, n := range parsed.Nodes {
		def.Nodes = append(def.Nodes, &NodeDef{
			Name:      n.Name,
			Op:        n.Op,
			Inputs:    n.Inputs,
			DType:     n.DType,
			Shape:     n.Shape,
			Values:    n.Values,
			HasValues: len(n.Values) > 0,
		})
	}
	return def, nil
}

// EncodeHCL renders def in the HCL text encoding.
func EncodeHCL(def *GraphDef) ([]byte, error) {
	f := hclwrite.NewEmptyFile()
	body := f.Body()
	for i, n := range def.Nodes {
		if n.Op == "" || n.Name == "" {
			return nil, errors.Errorf("node %d must have an op and a name", i)
		}
		if i > 0 {
			body.AppendNewline()
		}
		block := body.AppendNewBlock("node", []string{n.Op, n.Name})
		b := block.Body()
		if n.DType != "" {
			b.SetAttributeValue("dtype", cty.StringVal(n.DType))
		}
		if len(n.Inputs) > 0 {
			inputs := make([]cty.Value, len(n.Inputs))
			for j, in := range n.Inputs {
				inputs[j] = cty.StringVal(in)
			}
			b.SetAttributeValue("inputs", cty.ListVal(inputs))
		}
		if len(n.Shape) > 0 {
			shape := make([]cty.Value, len(n.Shape))
			for j, d := range n.Shape {
				shape[j] = cty.NumberIntVal(d)
			}
			b.SetAttributeValue("shape", cty.ListVal(shape))
		}
		if n.HasValues && len(n.Values) > 0 {
			values := make([]cty.Value, len(n.Values))
			for j, v := range n.Values {
				if math.IsNaN(v) || math.IsInf(v, 0) {
					return nil, errors.Errorf("node %q: value %d is %v, which HCL cannot represent; use the binary format", n.Name, j, v)
				}
				values[j] = cty.NumberFloatVal(v)
			}
			b.SetAttributeValue("values", cty.ListVal(values))
		}
	}
	return f.Bytes(), nil
}

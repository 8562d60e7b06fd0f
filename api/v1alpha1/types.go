package v1alpha1

import (
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"
)

// Methods accepted by GraphService/Call, one per binding entry point.
const (
	MethodInstantiate   = "instantiateSessionVariables"
	MethodLoadGraph     = "loadGraphFromFile"
	MethodPlaceholder   = "placeholder"
	MethodConstant      = "constant"
	MethodAdd           = "add"
	MethodMatMul        = "matMul"
	MethodFeedInput     = "feedInput"
	MethodSetOutput     = "setOutput"
	MethodRun           = "run"
	MethodReadOutput    = "readOutput"
	MethodDeleteSession = "deleteSessionVariables"
)

// Request is the decoded form of a Call request. Only the fields the method
// uses need to be set.
type Request struct {
	Method string

	Name  string
	Left  string
	Right string
	DType string
	Path  string

	Values []float64
	Shape  []int64
}

// Response is the decoded form of a Call response.
type Response struct {
	// Result is 0 or -1 for methods that return a status.
	Result int
	// Name is the node created by a builder method.
	Name string

	// Values and Shape hold the output read by readOutput.
	DType  string
	Values []float64
	Shape  []int64
}

// ToStruct encodes the request for the wire.
func (r *Request) ToStruct() (*structpb.Struct, error) {
	fields := map[string]any{"method": r.Method}
	setString(fields, "name", r.Name)
	setString(fields, "left", r.Left)
	setString(fields, "right", r.Right)
	setString(fields, "dtype", r.DType)
	setString(fields, "path", r.Path)
	if r.Values != nil {
		fields["values"] = floatList(r.Values)
	}
	if r.Shape != nil {
		fields["shape"] = intList(r.Shape)
	}
	s, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("encoding %s request: %w", r.Method, err)
	}
	return s, nil
}

// RequestFromStruct decodes a request received on the wire.
func RequestFromStruct(s *structpb.Struct) (*Request, error) {
	r := &Request{
		Method: s.GetFields()["method"].GetStringValue(),
		Name:   s.GetFields()["name"].GetStringValue(),
		Left:   s.GetFields()["left"].GetStringValue(),
		Right:  s.GetFields()["right"].GetStringValue(),
		DType:  s.GetFields()["dtype"].GetStringValue(),
		Path:   s.GetFields()["path"].GetStringValue(),
	}
	if r.Method == "" {
		return nil, fmt.Errorf("request has no method")
	}
	var err error
	if r.Values, err = floats(s, "values"); err != nil {
		return nil, err
	}
	if r.Shape, err = ints(s, "shape"); err != nil {
		return nil, err
	}
	return r, nil
}

// ToStruct encodes the response for the wire.
func (r *Response) ToStruct() (*structpb.Struct, error) {
	fields := map[string]any{"result": r.Result}
	setString(fields, "name", r.Name)
	setString(fields, "dtype", r.DType)
	if r.Values != nil {
		fields["values"] = floatList(r.Values)
	}
	if r.Shape != nil {
		fields["shape"] = intList(r.Shape)
	}
	s, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("encoding response: %w", err)
	}
	return s, nil
}

// ResponseFromStruct decodes a response received on the wire.
func ResponseFromStruct(s *structpb.Struct) (*Response, error) {
	r := &Response{
		Result: int(s.GetFields()["result"].GetNumberValue()),
		Name:   s.GetFields()["name"].GetStringValue(),
		DType:  s.GetFields()["dtype"].GetStringValue(),
	}
	var err error
	if r.Values, err = floats(s, "values"); err != nil {
		return nil, err
	}
	if r.Shape, err = ints(s, "shape"); err != nil {
		return nil, err
	}
	return r, nil
}

func setString(fields map[string]any, key, value string) {
	if value != "" {
		fields[key] = value
	}
}

func floatList(values []float64) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

func intList(values []int64) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

func floats(s *structpb.Struct, key string) ([]float64, error) {
	v, ok := s.GetFields()[key]
	if !ok {
		return nil, nil
	}
	list := v.GetListValue()
	if list == nil {
		return nil, fmt.Errorf("field %q is not a list", key)
	}
	out := make([]float64, len(list.GetValues()))
	for i, item := range list.GetValues() {
		n, ok := item.GetKind().(*structpb.Value_NumberValue)
		if !ok {
			return nil, fmt.Errorf("field %q: element %d is not a number", key, i)
		}
		out[i] = n.NumberValue
	}
	return out, nil
}

func ints(s *structpb.Struct, key string) ([]int64, error) {
	values, err := floats(s, key)
	if err != nil || values == nil {
		return nil, err
	}
	out := make([]int64, len(values))
	for i, v := range values {
		if v != float64(int64(v)) {
			return nil, fmt.Errorf("field %q: element %d is not an integer", key, i)
		}
		out[i] = int64(v)
	}
	return out, nil
}

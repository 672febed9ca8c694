package wasmhost

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/openfroyo/otaupdater/pkg/script"
)

// wireValue is the JSON form of a script value.
type wireValue struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`
}

// wireMessage is a UI message posted by a guest instruction.
type wireMessage struct {
	Command string `json:"cmd"`
	Content string `json:"content"`
}

// executeRequest is sent to uscript_execute.
type executeRequest struct {
	Retry  bool        `json:"retry"`
	Inputs []wireValue `json:"inputs"`
}

// executeResponse is returned by uscript_execute.
type executeResponse struct {
	Status   int32         `json:"status"`
	Outputs  []wireValue   `json:"outputs,omitempty"`
	Messages []wireMessage `json:"messages,omitempty"`
}

func encodeValue(v script.Value) (wireValue, error) {
	var raw []byte
	var err error
	switch tv := v.(type) {
	case script.StringValue:
		raw, err = json.Marshal(string(tv))
	case script.IntegerValue:
		raw, err = json.Marshal(int64(tv))
	case script.FloatValue:
		raw, err = json.Marshal(float64(tv))
	default:
		return wireValue{}, fmt.Errorf("unsupported value %T", v)
	}
	if err != nil {
		return wireValue{}, err
	}
	return wireValue{Type: v.Type().String(), Value: raw}, nil
}

func decodeValue(w wireValue) (script.Value, error) {
	t, err := script.ParseValueType(w.Type)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(w.Value))
	dec.UseNumber()

	switch t {
	case script.ValueTypeString:
		var s string
		if err := dec.Decode(&s); err != nil {
			return nil, fmt.Errorf("invalid string value: %w", err)
		}
		return script.StringValue(s), nil
	case script.ValueTypeInteger:
		var n json.Number
		if err := dec.Decode(&n); err != nil {
			return nil, fmt.Errorf("invalid integer value: %w", err)
		}
		i, err := n.Int64()
		if err != nil {
			return nil, fmt.Errorf("invalid integer value: %w", err)
		}
		return script.IntegerValue(i), nil
	default:
		var n json.Number
		if err := dec.Decode(&n); err != nil {
			return nil, fmt.Errorf("invalid float value: %w", err)
		}
		f, err := n.Float64()
		if err != nil {
			return nil, fmt.Errorf("invalid float value: %w", err)
		}
		return script.FloatValue(f), nil
	}
}

func encodeRequest(retry bool, inputs []script.Value) ([]byte, error) {
	req := executeRequest{Retry: retry, Inputs: make([]wireValue, 0, len(inputs))}
	for _, v := range inputs {
		w, err := encodeValue(v)
		if err != nil {
			return nil, err
		}
		req.Inputs = append(req.Inputs, w)
	}
	return json.Marshal(req)
}

func decodeResponse(data []byte) (*executeResponse, []script.Value, error) {
	var resp executeResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	outputs := make([]script.Value, 0, len(resp.Outputs))
	for i, w := range resp.Outputs {
		v, err := decodeValue(w)
		if err != nil {
			return nil, nil, fmt.Errorf("output %d: %w", i, err)
		}
		outputs = append(outputs, v)
	}
	return &resp, outputs, nil
}

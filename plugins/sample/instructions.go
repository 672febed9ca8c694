package main

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Status codes understood by the host. They mirror the host's status
// taxonomy order.
const (
	statusSuccess         int32 = 0
	statusParameterCount  int32 = 1
	statusParameterType   int32 = 2
	statusExecutionFailed int32 = 6
)

// value is the wire form of a script value.
type value struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`
}

type message struct {
	Command string `json:"cmd"`
	Content string `json:"content"`
}

type request struct {
	Retry  bool    `json:"retry"`
	Inputs []value `json:"inputs"`
}

type response struct {
	Status   int32     `json:"status"`
	Outputs  []value   `json:"outputs,omitempty"`
	Messages []message `json:"messages,omitempty"`
}

// instruction executes one request.
type instruction func(req *request, resp *response)

// instructions is the factory table, keyed by instruction name.
var instructions = map[string]instruction{
	"str_upper":     strUpper,
	"add":           add,
	"vendor_notice": vendorNotice,
	"retry_guard":   retryGuard,
}

func stringValue(s string) value {
	raw, _ := json.Marshal(s)
	return value{Type: "string", Value: raw}
}

func integerValue(i int64) value {
	raw, _ := json.Marshal(i)
	return value{Type: "integer", Value: raw}
}

func (v value) str() (string, bool) {
	if v.Type != "string" {
		return "", false
	}
	var s string
	return s, json.Unmarshal(v.Value, &s) == nil
}

func (v value) integer() (int64, bool) {
	if v.Type != "integer" {
		return 0, false
	}
	var i int64
	return i, json.Unmarshal(v.Value, &i) == nil
}

func arity(req *request, resp *response, n int) bool {
	if len(req.Inputs) != n {
		resp.Status = statusParameterCount
		return false
	}
	return true
}

func strUpper(req *request, resp *response) {
	if !arity(req, resp, 1) {
		return
	}
	s, ok := req.Inputs[0].str()
	if !ok {
		resp.Status = statusParameterType
		return
	}
	resp.Outputs = append(resp.Outputs, stringValue(strings.ToUpper(s)))
}

func add(req *request, resp *response) {
	if !arity(req, resp, 2) {
		return
	}
	a, okA := req.Inputs[0].integer()
	b, okB := req.Inputs[1].integer()
	if !okA || !okB {
		resp.Status = statusParameterType
		return
	}
	resp.Outputs = append(resp.Outputs, integerValue(a+b))
}

func vendorNotice(req *request, resp *response) {
	if !arity(req, resp, 1) {
		return
	}
	text, ok := req.Inputs[0].str()
	if !ok {
		resp.Status = statusParameterType
		return
	}
	resp.Messages = append(resp.Messages, message{Command: "ui_log", Content: "[vendor] " + text})
}

func retryGuard(req *request, resp *response) {
	if !arity(req, resp, 0) {
		return
	}
	var v int64
	if req.Retry {
		v = 1
	}
	resp.Outputs = append(resp.Outputs, integerValue(v))
}

// handle dispatches a JSON request to fn and returns the JSON response.
func handle(fn instruction, data []byte) []byte {
	var req request
	resp := response{Status: statusSuccess}
	if err := json.Unmarshal(data, &req); err != nil {
		resp.Status = statusExecutionFailed
		resp.Messages = append(resp.Messages, message{Command: "ui_log", Content: fmt.Sprintf("bad request: %v", err)})
	} else {
		fn(&req, &resp)
	}
	out, _ := json.Marshal(resp)
	return out
}

package tools

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrInvalidArguments marks tool arguments that could not be used as given.
var ErrInvalidArguments = errors.New("invalid tool arguments")

const (
	defaultMaxResults = 10
	maxMaxResults     = 20
)

// Sanitize normalizes model-produced arguments: strings are trimmed,
// max_results is clamped to 1..20 and quantity is coerced to an integer.
// Malformed JSON is not repaired.
func Sanitize(argsJSON string) (string, error) {
	args, err := decodeArgs(argsJSON)
	if err != nil {
		return "", err
	}
	for k, v := range args {
		if s, ok := v.(string); ok {
			args[k] = strings.TrimSpace(s)
		}
	}
	if v, ok := args["max_results"]; ok {
		n, err := toInt(v)
		if err != nil {
			n = defaultMaxResults
		}
		args["max_results"] = min(max(n, 1), maxMaxResults)
	}
	if v, ok := args["quantity"]; ok {
		n, err := toInt(v)
		if err != nil {
			return "", fmt.Errorf("%w: quantity: %v", ErrInvalidArguments, err)
		}
		args["quantity"] = n
	}
	if v, ok := args["price"]; ok {
		if s, isStr := v.(string); isStr {
			f, err := strconv.ParseFloat(strings.TrimPrefix(s, "$"), 64)
			if err != nil {
				return "", fmt.Errorf("%w: price %q is not a number", ErrInvalidArguments, s)
			}
			args["price"] = f
		}
	}
	b, err := marshalJSON(args)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	return string(b), nil
}

func decodeArgs(argsJSON string) (map[string]any, error) {
	if strings.TrimSpace(argsJSON) == "" {
		return map[string]any{}, nil
	}
	dec := json.NewDecoder(strings.NewReader(argsJSON))
	dec.UseNumber()
	var args map[string]any
	if err := dec.Decode(&args); err != nil {
		return nil, fmt.Errorf("%w: malformed JSON: %v", ErrInvalidArguments, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data after JSON object", ErrInvalidArguments)
	}
	if args == nil {
		return nil, fmt.Errorf("%w: arguments must be a JSON object", ErrInvalidArguments)
	}
	return args, nil
}

func toInt(v any) (int, error) {
	var f float64
	switch t := v.(type) {
	case json.Number:
		parsed, err := t.Float64()
		if err != nil {
			return 0, err
		}
		f = parsed
	case float64:
		f = t
	case int:
		return t, nil
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, fmt.Errorf("%q is not a number", t)
		}
		f = parsed
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
	if f != math.Trunc(f) || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, fmt.Errorf("%v is not a whole number", v)
	}
	if f > math.MaxInt32 || f < math.MinInt32 {
		return 0, fmt.Errorf("%v is out of range", v)
	}
	return int(f), nil
}

func marshalJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"gopkg.in/yaml.v3"

	"github.com/jacentio/versioned/store"
)

// Exit codes for CLI commands.
const (
	ExitSuccess = 0
	ExitFailure = 1 // transaction failed, e.g. item not found
	ExitUsage   = 2 // bad flags or arguments
)

// ExitError represents an error with a specific exit code.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// ExitCode extracts the exit code from an error.
// Returns ExitFailure if the error is not an ExitError.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// Render writes item to w as json or yaml. Numbers keep their exact
// representation; a nil item renders as null.
func Render(w io.Writer, format string, item store.Item) error {
	var doc map[string]any
	if item != nil {
		err := attributevalue.UnmarshalMapWithOptions(item, &doc, func(o *attributevalue.DecoderOptions) {
			o.UseNumber = true
		})
		if err != nil {
			return fmt.Errorf("decode item: %w", err)
		}
	}

	switch format {
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(plain(doc, yamlNumber)); err != nil {
			return err
		}
		return enc.Close()
	default:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(plain(doc, jsonNumber))
	}
}

func jsonNumber(n attributevalue.Number) any { return json.Number(n) }

// yamlNumber keeps integers as integers and anything else as its decimal
// text, since a float would round it.
func yamlNumber(n attributevalue.Number) any {
	if i, err := strconv.ParseInt(string(n), 10, 64); err == nil {
		return i
	}
	return string(n)
}

// plain replaces decoded numbers for the encoder at hand.
func plain(v any, number func(attributevalue.Number) any) any {
	switch v := v.(type) {
	case map[string]any:
		if v == nil {
			return nil
		}
		out := make(map[string]any, len(v))
		for k, e := range v {
			out[k] = plain(e, number)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = plain(e, number)
		}
		return out
	case []attributevalue.Number:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = number(e)
		}
		return out
	case attributevalue.Number:
		return number(v)
	}
	return v
}

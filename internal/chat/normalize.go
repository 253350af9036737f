package chat

import (
	"bytes"
	"encoding/json"

	"github.com/tidwall/gjson"
)

// NoResponseText is shown when the backend reply carries neither a result nor an error.
const NoResponseText = "No response"

// Normalize turns a backend reply into display text. The reply envelope is
// not fixed: the result sits under "lambda" as a JSON string, as an object
// with a string-encoded "body", or as a plain object, and failures arrive as
// a top-level "error". Normalize never fails; undecodable results degrade to
// their raw text.
func Normalize(reply []byte) string {
	root := gjson.ParseBytes(reply)

	if errVal := root.Get("error"); truthy(errVal) {
		return "Error: " + errVal.String()
	}

	lambda := root.Get("lambda")
	if !truthy(lambda) {
		return NoResponseText
	}

	decoded, ok := decodeLambda(lambda)
	if !ok {
		if lambda.Type == gjson.String {
			return lambda.Str
		}
		return dump(lambda.Raw)
	}

	if text := decoded.Get("generated_text"); truthy(text) {
		return text.String()
	}
	if decoded.Type == gjson.String {
		return decoded.Str
	}
	return dump(decoded.Raw)
}

// decodeLambda unwraps the result value. ok is false when a string-encoded
// layer is not valid JSON.
func decodeLambda(lambda gjson.Result) (gjson.Result, bool) {
	if lambda.Type == gjson.String {
		return parseEncoded(lambda.Str)
	}
	if body := lambda.Get("body"); body.Type == gjson.String {
		return parseEncoded(body.Str)
	}
	return lambda, true
}

func parseEncoded(s string) (gjson.Result, bool) {
	if !gjson.Valid(s) {
		return gjson.Result{}, false
	}
	return gjson.Parse(s), true
}

// truthy mirrors how the browser client tested reply fields: null, false,
// zero and the empty string count as absent.
func truthy(r gjson.Result) bool {
	if !r.Exists() {
		return false
	}
	switch r.Type {
	case gjson.Null, gjson.False:
		return false
	case gjson.Number:
		return r.Num != 0
	case gjson.String:
		return r.Str != ""
	default:
		return true
	}
}

// dump pretty-prints raw JSON with a two-space indent.
func dump(raw string) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, []byte(raw), "", "  "); err != nil {
		return raw
	}
	return buf.String()
}

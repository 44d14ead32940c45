package analysis

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/csheth/nexus/internal/remote"
)

const (
	malformedMessage = "The server returned a response that could not be read. It most likely hit a size or time limit while processing the document; try again with a smaller PDF."
	missingMessage   = "The server response did not contain an analysis. Try again, or use a smaller PDF if the problem persists."
	unknownMessage   = "The analysis service rejected the document without an explanation."
)

func networkFailure(err error) *Failure {
	msg := "Could not reach the analysis service. Check your connection and try again."
	var te *remote.TransportError
	if errors.As(err, &te) && te.Timeout() {
		msg = "The analysis service did not answer in time. Try again, or use a smaller PDF."
	}
	return &Failure{Kind: NetworkFailure, Message: msg, Err: err}
}

// interpret turns a received outcome into exactly one of a result or a
// failure. fallbackName is used when the body omits the filename.
func interpret(outcome remote.Outcome, fallbackName string) (*Result, *Failure) {
	var body map[string]any
	if err := json.Unmarshal(outcome.Body, &body); err != nil || body == nil {
		if err == nil {
			err = fmt.Errorf("response body is not a JSON object")
		}
		return nil, &Failure{Kind: MalformedResponse, Message: malformedMessage, Status: outcome.Status, Err: err}
	}

	if marker, ok := body["error"]; ok && truthy(marker) {
		return nil, &Failure{Kind: ApplicationError, Message: applicationMessage(body), Status: outcome.Status}
	}
	if !outcome.OK {
		msg := applicationMessage(body)
		if msg == unknownMessage {
			msg = fmt.Sprintf("The analysis service returned %d %s.", outcome.Status, http.StatusText(outcome.Status))
		}
		return nil, &Failure{Kind: ApplicationError, Message: msg, Status: outcome.Status}
	}

	payload, ok := body["analysis"].(map[string]any)
	if !ok || len(payload) == 0 {
		return nil, &Failure{Kind: MalformedResponse, Message: missingMessage, Status: outcome.Status,
			Err: fmt.Errorf("analysis field missing, empty or not an object")}
	}
	filename, _ := body["filename"].(string)
	if strings.TrimSpace(filename) == "" {
		filename = fallbackName
	}
	return &Result{Analysis: payload, Filename: filename}, nil
}

// applicationMessage prefers the human-readable detail over the raw error.
func applicationMessage(body map[string]any) string {
	if detail, ok := body["detail"].(string); ok && strings.TrimSpace(detail) != "" {
		return strings.TrimSpace(detail)
	}
	if msg, ok := body["error"].(string); ok && strings.TrimSpace(msg) != "" {
		return strings.TrimSpace(msg)
	}
	if msg, ok := body["message"].(string); ok && strings.TrimSpace(msg) != "" {
		return strings.TrimSpace(msg)
	}
	return unknownMessage
}

func truthy(v any) bool {
	switch value := v.(type) {
	case nil:
		return false
	case bool:
		return value
	case string:
		return value != ""
	case float64:
		return value != 0
	default:
		return true
	}
}

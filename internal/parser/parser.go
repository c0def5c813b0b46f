// Package parser turns raw agent output into a normalized protocol.Result.
// Both entry points are pure and never fail: malformed input degrades to a
// best-effort result instead of an error. A child that violates its own
// output contract is not, by itself, evidence of failure; only a non-zero
// exit code is, and that is judged elsewhere.
package parser

import (
	"bytes"
	"encoding/json"

	"github.com/zkhan93/claude-explains-api/internal/protocol"
)

// singleDoc is the shape of single-document JSON output. Pointer fields
// distinguish absent keys from zero values.
type singleDoc struct {
	Result       *string  `json:"result"`
	SessionID    string   `json:"session_id"`
	IsError      bool     `json:"is_error"`
	Errors       []string `json:"errors"`
	TotalCostUSD float64  `json:"total_cost_usd"`
}

// ParseResultJSON decodes data as one JSON document with optional result,
// session_id and is_error fields. A missing result field defaults to the raw
// input text. If the payload is not a JSON object at all, the raw text
// becomes the result with IsError=false.
func ParseResultJSON(data []byte) protocol.Result {
	var doc singleDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return protocol.Result{Text: string(data)}
	}
	return docResult(doc, data)
}

func docResult(doc singleDoc, raw []byte) protocol.Result {
	res := protocol.Result{
		Text:      string(raw),
		SessionID: doc.SessionID,
		IsError:   doc.IsError,
		Errors:    doc.Errors,
		CostUSD:   doc.TotalCostUSD,
	}
	if doc.Result != nil {
		res.Text = *doc.Result
	}
	return res
}

// ParseStream folds a stream of newline-delimited JSON events into a single
// result. Blank lines and lines that do not decode are skipped. Only the
// most recent assistant message's text is kept; a terminal result event that
// carries its own result string overrides it. If the scan observes neither
// assistant text nor a session id, the payload is retried as one JSON
// document, and failing that the raw text is returned with IsError=false.
func ParseStream(data []byte) protocol.Result {
	var (
		text      string
		sessionID string
		isError   bool
		errList   []string
		costUSD   float64
	)

	// The payload is already fully in memory, so a plain split imposes no
	// line-length cap: an oversized assistant line must not cost us the
	// terminal result event that follows it.
	for _, line := range bytes.Split(data, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}

		var event protocol.StreamEvent
		if err := json.Unmarshal(line, &event); err != nil {
			continue
		}

		switch event.Type {
		case protocol.EventTypeResult:
			if event.SessionID != "" {
				sessionID = event.SessionID
			}
			if event.IsError != nil {
				isError = *event.IsError
			}
			if event.Errors != nil {
				errList = event.Errors
			}
			if event.TotalCostUSD != nil {
				costUSD = *event.TotalCostUSD
			}
			if event.Result != "" {
				text = event.Result
			}

		case protocol.EventTypeAssistant:
			if t, ok := event.Message.TextContent(); ok {
				text = t
			}

		case protocol.EventTypeSystem:
			// init chatter; carries nothing the result needs
		}
	}

	if text == "" && sessionID == "" {
		// Maybe not line-delimited after all
		var doc singleDoc
		if err := json.Unmarshal(data, &doc); err == nil {
			return docResult(doc, data)
		}
		return protocol.Result{Text: string(data)}
	}

	return protocol.Result{
		Text:      text,
		SessionID: sessionID,
		IsError:   isError,
		Errors:    errList,
		CostUSD:   costUSD,
	}
}

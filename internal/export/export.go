// Package export defines the collaborator that renders session results into documents.
package export

import (
	"context"
	"fmt"
	"strings"

	"github.com/wellsgz/speedpulse/internal/protocol"
	"github.com/wellsgz/speedpulse/internal/stability"
)

// Format is a document format
type Format string

const (
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
)

// ParseFormat parses a format name, case-insensitively
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatPDF, FormatDOCX:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported export format %q", s)
	}
}

// Request is what gets exported
type Request struct {
	Format        Format                      `json:"format"`
	Results       []stability.IterationResult `json:"results"`
	StabilityData *protocol.StabilityAnalysis `json:"stability_data,omitempty"`
}

// Result is the collaborator's answer
type Result struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Exporter renders a request into a document
type Exporter interface {
	Export(ctx context.Context, req Request) (Result, error)
}

// Func adapts a function to the Exporter interface
type Func func(ctx context.Context, req Request) (Result, error)

// Export calls f(ctx, req)
func (f Func) Export(ctx context.Context, req Request) (Result, error) {
	return f(ctx, req)
}

// Error is an export failure reported by the collaborator. Message is passed through unchanged.
type Error struct {
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// NotConfigured is the exporter used when no document backend is available
var NotConfigured Exporter = Func(func(ctx context.Context, req Request) (Result, error) {
	return Result{Success: false, Error: "export is not configured"}, nil
})

// Do runs exp and folds an unsuccessful result into an *Error.
// It never retries.
func Do(ctx context.Context, exp Exporter, req Request) error {
	if exp == nil {
		exp = NotConfigured
	}
	if len(req.Results) == 0 && req.StabilityData == nil {
		return &Error{Message: "nothing to export"}
	}

	res, err := exp.Export(ctx, req)
	if err != nil {
		return &Error{Message: err.Error()}
	}
	if !res.Success {
		msg := res.Error
		if msg == "" {
			msg = "export failed"
		}
		return &Error{Message: msg}
	}
	return nil
}

// ABOUTME: Validates required input-form values before a conversation may start
// ABOUTME: Distinguishes missing required fields from uploads still in flight

package inputform

import (
	"fmt"
	"log/slog"
)

// TransferMethod describes how a file value reached the widget.
type TransferMethod string

// Transfer methods carried on file values.
const (
	TransferMethodLocalFile TransferMethod = "local_file"
	TransferMethodRemoteURL TransferMethod = "remote_url"
)

// FileValue is the shape a file or file-list input holds per file.
type FileValue struct {
	ID             string         `json:"id,omitempty"`
	Name           string         `json:"name,omitempty"`
	TransferMethod TransferMethod `json:"transfer_method"`
	UploadedID     string         `json:"upload_file_id,omitempty"`
	URL            string         `json:"url,omitempty"`
}

// Uploading reports whether the file still uses a local transfer method
// without a finalized upload id.
func (f FileValue) Uploading() bool {
	return f.TransferMethod == TransferMethodLocalFile && f.UploadedID == ""
}

// CheckResult is the outcome of a required-inputs check.
type CheckResult int

const (
	// CheckOK means the session may start.
	CheckOK CheckResult = iota
	// CheckMissing means a required field has no value; the start is invalid.
	CheckMissing
	// CheckPending means a file upload is still in flight; the start is
	// blocked but not invalid.
	CheckPending
)

// Notifier surfaces transient user-visible notices. Silent checks never
// touch it.
type Notifier interface {
	Error(message string)
	Info(message string)
}

// NopNotifier discards all notices.
type NopNotifier struct{}

func (NopNotifier) Error(string) {}
func (NopNotifier) Info(string)  {}

// Gate validates input values against a schema before a session starts.
type Gate struct {
	schema   Schema
	notifier Notifier
	logger   *slog.Logger
}

// NewGate creates a gate for the given schema. Pass nil for a silent
// notifier and default logger.
func NewGate(schema Schema, notifier Notifier, logger *slog.Logger) *Gate {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		schema:   schema,
		notifier: notifier,
		logger:   logger.With("component", "inputgate"),
	}
}

// CheckRequired validates values against the schema's required fields.
// Checkboxes are never blocking. The first missing required field wins and,
// unless silent, produces an error notice. File values still uploading
// produce a distinct pending result with an informational notice instead.
// The check has no side effects beyond the notices, so calling it twice with
// identical inputs yields identical results.
func (g *Gate) CheckRequired(values map[string]any, silent bool) CheckResult {
	if g.schema.AllHidden() {
		return CheckOK
	}

	for _, f := range g.schema {
		if !f.Required || f.Type == FieldTypeCheckbox {
			continue
		}
		if isEmpty(values[f.Variable]) {
			if !silent {
				g.notifier.Error(fmt.Sprintf("%s is required", fieldName(f)))
			}
			return CheckMissing
		}
	}

	for _, f := range g.schema {
		if f.Type != FieldTypeFile && f.Type != FieldTypeFileList {
			continue
		}
		if anyUploading(values[f.Variable]) {
			if !silent {
				g.notifier.Info("please wait for the file upload to finish")
			}
			return CheckPending
		}
	}

	return CheckOK
}

func fieldName(f Field) string {
	if f.Label != "" {
		return f.Label
	}
	return f.Variable
}

func isEmpty(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return val == ""
	case []FileValue:
		return len(val) == 0
	case []any:
		return len(val) == 0
	default:
		return false
	}
}

// anyUploading inspects a file or file-list value for transfers that have
// not finalized.
func anyUploading(v any) bool {
	switch val := v.(type) {
	case FileValue:
		return val.Uploading()
	case *FileValue:
		return val != nil && val.Uploading()
	case []FileValue:
		for _, f := range val {
			if f.Uploading() {
				return true
			}
		}
	}
	return false
}

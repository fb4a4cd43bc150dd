package core

// error_messages.go maps failures to operator-facing messages with a code
// for support reference.
//
// # Validate Errors (VAL, SVC)
//
//	VAL001 - Missing input: dataset or file not chosen (no request sent)
//	VAL002 - Rejected: the service refused the request or sent a malformed report
//	SVC001 - Unreachable: no response from the validation service
//	SVC002 - Timeout: the service did not answer within the deadline
//	SVC003 - Service fault: the service failed while validating (5xx)
//	SVC004 - Cancelled: the request was abandoned
//
// # Save Errors (SAVE)
//
//	SAVE001 - Unreachable
//	SAVE002 - Timeout
//	SAVE003 - Service fault
//	SAVE004 - Rejected
//	SAVE005 - Cancelled
//
// # Workflow Rejections (WF)
//
//	WF001 - Service not ready
//	WF002 - Busy: a validate or save is still in flight
//	WF003 - No report to save
//	WF004 - Report invalid: save disabled
//	WF005 - Dataset locked for this cycle
//	WF006 - Unknown dataset
//	WF007 - Superseded response discarded
//
// # File Errors (FILE)
//
//	FILE001 - File too large
//	FILE004 - No file provided
//	FILE005 - Empty file
//
// # Fallback
//
//	RATE001 - Rate limited
//	ERR000  - Unknown error; check logs for the technical error
//
// Service-provided detail is always shown verbatim; the code and action come
// from the error kind. Errors that are neither OperationErrors nor workflow
// sentinels fall back to case-insensitive substring patterns.

import (
	"errors"
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

type kindMessage struct {
	fallback string
	action   string
	code     map[Op]string
}

var kindMessages = map[ErrorKind]kindMessage{
	KindMissingInput: {
		fallback: "Choose a dataset and a file first",
		action:   "Select both a dataset and a spreadsheet, then validate",
		code:     map[Op]string{OpValidate: "VAL001", OpSave: "VAL001"},
	},
	KindUnreachable: {
		fallback: "Cannot reach the validation service",
		action:   "This is a connection problem, not a data problem. Check that the service is running, then try again",
		code:     map[Op]string{OpValidate: "SVC001", OpSave: "SAVE001"},
	},
	KindTimeout: {
		fallback: "The validation service did not respond in time",
		action:   "Try again in a moment; large workbooks take longer",
		code:     map[Op]string{OpValidate: "SVC002", OpSave: "SAVE002"},
	},
	KindServiceFault: {
		fallback: "The service failed while processing the request",
		action:   "The server crashed or errored; try again or contact support",
		code:     map[Op]string{OpValidate: "SVC003", OpSave: "SAVE003"},
	},
	KindRejected: {
		fallback: "The request was rejected",
		action:   "Check the dataset and file, then try again",
		code:     map[Op]string{OpValidate: "VAL002", OpSave: "SAVE004"},
	},
	KindCancelled: {
		fallback: "The request was cancelled",
		action:   "Start the action again when ready",
		code:     map[Op]string{OpValidate: "SVC004", OpSave: "SAVE005"},
	},
}

type sentinelMessage struct {
	err error
	msg UserMessage
}

var sentinelMessages = []sentinelMessage{
	{ErrNotReady, UserMessage{"The validation service is not ready", "Wait for the status indicator to turn ready", "WF001"}},
	{ErrBusy, UserMessage{"A request is already in progress", "Wait for it to finish or clear to start over", "WF002"}},
	{ErrNoReport, UserMessage{"There is no validation report to save", "Validate a file first", "WF003"}},
	{ErrReportInvalid, UserMessage{"The data did not pass validation and cannot be saved", "Fix the flagged cells and upload again", "WF004"}},
	{ErrSelectorLocked, UserMessage{"A dataset is already chosen for this upload", "Clear to pick a different dataset", "WF005"}},
	{ErrUnknownDataset, UserMessage{"Unknown dataset", "Pick one of the listed datasets", "WF006"}},
	{ErrSuperseded, UserMessage{"A newer action replaced this request", "No action needed", "WF007"}},
	{ErrEmptyFile, UserMessage{"The uploaded file is empty", "Upload a spreadsheet with data rows", "FILE005"}},
}

type errorPattern struct {
	pattern string
	msg     UserMessage
}

var errorPatterns = []errorPattern{
	{"file too large", UserMessage{"File exceeds maximum size limit", "Split the workbook into smaller files", "FILE001"}},
	{"request body too large", UserMessage{"File exceeds maximum size limit", "Split the workbook into smaller files", "FILE001"}},
	{"no file provided", UserMessage{"No file was selected", "Please select a spreadsheet to upload", "FILE004"}},
	{"rate limit", UserMessage{"Too many requests", "Please wait a moment before trying again", "RATE001"}},
}

var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts err into a message fit for the operator.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	var oe *OperationError
	if errors.As(err, &oe) {
		km, ok := kindMessages[oe.Kind]
		if !ok {
			return defaultMessage
		}
		msg := oe.Message
		if msg == "" {
			msg = km.fallback
		}
		return UserMessage{Message: msg, Action: km.action, Code: km.code[oe.Op]}
	}

	for _, sm := range sentinelMessages {
		if errors.Is(err, sm.err) {
			return sm.msg
		}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}
	return defaultMessage
}

// FormatUserError renders "Message (Code: XXX). Action".
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

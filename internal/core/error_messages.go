// Package core provides the business logic for renaming product photos.
//
// # Error Codes Reference
//
// This file defines user-friendly error messages with codes for support
// reference. Errors are matched by pattern, case-insensitively, first match
// wins.
//
// # Mapping Errors (MAP001-MAP099)
//
//	MAP001 - Missing column: the table has no CÓDIGO/CODE or SKU column
//	         Patterns: "missing required column"
//	MAP002 - Encoding error: the table could not be decoded
//	         Patterns: "encoding error"
//	MAP003 - Invalid CSV: the table is not comma-separated text
//	         Patterns: "invalid csv"
//	MAP004 - Empty table: the table has no header row
//	         Patterns: "empty file"
//	MAP000 - Mapping unusable: any other mapping load failure
//	         Patterns: "mapping load failed"
//
// # Source Errors (SRC001-SRC099)
//
//	SRC001 - Invalid archive: the upload is not a ZIP file
//	         Patterns: "invalid zip archive"
//	SRC002 - Source not found: the source folder does not exist
//	         Patterns: "source folder not found"
//	SRC003 - Destination error: the destination folder cannot be created
//	         Patterns: "create destination folder"
//
// # File Errors (FILE001-FILE099)
//
//	FILE001 - File too large
//	          Patterns: "file too large"
//	FILE002 - No file: a required upload field is missing
//	          Patterns: "no file provided"
//
// # Run Errors (RUN001-RUN099)
//
//	RUN001 - Run cancelled           Patterns: "run cancelled"
//	RUN002 - System busy             Patterns: "too many runs"
//	RUN003 - Run not found           Patterns: "run not found"
//	RUN004 - Request cancelled       Patterns: "context canceled"
//	RUN005 - Request timeout         Patterns: "context deadline exceeded"
//	RUN006 - Folder mode disabled    Patterns: "folder mode is disabled"
//	RUN007 - Output not available    Patterns: "output not available"
//
// # Storage (DB001-DB099) and Rate Limiting (RATE001)
//
//	DB001 - History store unreachable  Patterns: "connection refused"
//	RATE001 - Too many requests        Patterns: "rate limit"
//
// # Default Error (ERR000)
//
// Fallback when no pattern matches. Check the application logs for the
// original technical error.
package core

import (
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns maps technical error patterns (case-insensitive) to user messages.
// More specific patterns must come before general ones.
var errorPatterns = []errorPattern{
	// =========================================================================
	// Mapping table (MAP)
	// =========================================================================
	{
		pattern: "missing required column",
		msg: UserMessage{
			Message: "The CSV does not contain the CÓDIGO and SKU columns",
			Action:  "Add a CÓDIGO (or CODE) column and a SKU column to the header row",
			Code:    "MAP001",
		},
	},
	{
		pattern: "encoding error",
		msg: UserMessage{
			Message: "The CSV could not be decoded",
			Action:  "Save the file as UTF-8 and try again",
			Code:    "MAP002",
		},
	},
	{
		pattern: "invalid csv",
		msg: UserMessage{
			Message: "The file is not a valid CSV",
			Action:  "Export the spreadsheet as comma-separated values",
			Code:    "MAP003",
		},
	},
	{
		pattern: "empty file",
		msg: UserMessage{
			Message: "The CSV is empty",
			Action:  "Upload a CSV with a header row and at least one code",
			Code:    "MAP004",
		},
	},
	{
		pattern: "mapping load failed",
		msg: UserMessage{
			Message: "The code to SKU mapping could not be loaded",
			Action:  "Check that the CSV has CÓDIGO and SKU columns and codes of at least 5 characters",
			Code:    "MAP000",
		},
	},

	// =========================================================================
	// Image sources (SRC)
	// =========================================================================
	{
		pattern: "invalid zip archive",
		msg: UserMessage{
			Message: "The uploaded archive is not a valid ZIP file",
			Action:  "Compress the image folders again and upload the .zip",
			Code:    "SRC001",
		},
	},
	{
		pattern: "source folder not found",
		msg: UserMessage{
			Message: "Source folder not found",
			Action:  "Copy the full folder path from your file explorer and paste it again",
			Code:    "SRC002",
		},
	},
	{
		pattern: "create destination folder",
		msg: UserMessage{
			Message: "The destination folder could not be created",
			Action:  "Choose a folder you have write access to",
			Code:    "SRC003",
		},
	},

	// =========================================================================
	// Uploaded files (FILE)
	// =========================================================================
	{
		pattern: "file too large",
		msg: UserMessage{
			Message: "File exceeds the maximum upload size",
			Action:  "Split the images into smaller archives",
			Code:    "FILE001",
		},
	},
	{
		pattern: "no file provided",
		msg: UserMessage{
			Message: "A required file was not selected",
			Action:  "Select both the CSV and the ZIP archive",
			Code:    "FILE002",
		},
	},

	// =========================================================================
	// Runs (RUN)
	// =========================================================================
	{
		pattern: "run cancelled",
		msg: UserMessage{
			Message: "The run was cancelled",
			Action:  "Start a new run when ready",
			Code:    "RUN001",
		},
	},
	{
		pattern: "too many runs",
		msg: UserMessage{
			Message: "System is busy processing other runs",
			Action:  "Please wait a moment and try again",
			Code:    "RUN002",
		},
	},
	{
		pattern: "run not found",
		msg: UserMessage{
			Message: "Run not found",
			Action:  "The results may have expired. Please start a new run",
			Code:    "RUN003",
		},
	},
	{
		pattern: "context canceled",
		msg: UserMessage{
			Message: "Request was cancelled",
			Action:  "Please try again",
			Code:    "RUN004",
		},
	},
	{
		pattern: "context deadline exceeded",
		msg: UserMessage{
			Message: "Request timed out",
			Action:  "Try a smaller batch of images",
			Code:    "RUN005",
		},
	},
	{
		pattern: "folder mode is disabled",
		msg: UserMessage{
			Message: "Local folder processing is not enabled on this server",
			Action:  "Upload a ZIP archive instead",
			Code:    "RUN006",
		},
	},
	{
		pattern: "output not available",
		msg: UserMessage{
			Message: "This run has no file of that kind to download",
			Action:  "Folder runs write their files to the destination folder",
			Code:    "RUN007",
		},
	},

	// =========================================================================
	// History store (DB) and rate limiting (RATE)
	// =========================================================================
	{
		pattern: "connection refused",
		msg: UserMessage{
			Message: "Unable to reach the run history database",
			Action:  "Please try again in a few moments",
			Code:    "DB001",
		},
	},
	{
		pattern: "rate limit",
		msg: UserMessage{
			Message: "Too many requests",
			Action:  "Please wait a moment before trying again",
			Code:    "RATE001",
		},
	},
}

// defaultMessage is returned when no pattern matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
// If no pattern matches, a generic fallback with code ERR000 is returned.
//
// Example:
//
//	err := errors.New("mapping load failed: missing required column")
//	msg := MapError(err)
//	// msg.Code == "MAP001"
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	errStr := strings.ToLower(err.Error())

	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatUserError creates a formatted error string for display.
// The format is: "Message (Code: XXX). Action"
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

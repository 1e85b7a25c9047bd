package core

import (
	"io"
	"time"
)

// CodeLength is the number of leading filename characters that form a code.
const CodeLength = 5

// MaxImagesPerGroup caps how many images are taken from a single folder
// (or archive folder prefix) during enumeration.
const MaxImagesPerGroup = 6

// MaxSequence is the highest sequence number used in output filenames.
// The counter wraps back to 1 after it.
const MaxSequence = 6

// JPEGQuality is the quality used for every encoded output image.
const JPEGQuality = 95

// ImageRef is a handle to one input image, independent of whether it came
// from a directory walk or from an archive.
type ImageRef interface {
	// Name is the base filename, used to derive the code and extension.
	Name() string
	// Path is the full origin path (filesystem path or archive entry name).
	Path() string
	// Group is the containing directory or archive folder prefix.
	Group() string
	// Open returns the raw image bytes. Callers must close the reader.
	Open() (io.ReadCloser, error)
}

// Severity classifies a processing event.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// FailureReason tells callers why an image produced no output.
type FailureReason string

const (
	ReasonUnmapped FailureReason = "unmapped"
	ReasonRead     FailureReason = "read"
	ReasonDecode   FailureReason = "decode"
	ReasonEncode   FailureReason = "encode"
	ReasonWrite    FailureReason = "write"
)

// Event is a single structured log entry produced during a run.
type Event struct {
	Time     time.Time     `json:"time"`
	Severity Severity      `json:"severity"`
	Message  string        `json:"message"`
	File     string        `json:"file,omitempty"`
	Output   string        `json:"output,omitempty"`
	Reason   FailureReason `json:"reason,omitempty"`
	// CapturedAt is the EXIF capture time of the source image, when present.
	CapturedAt *time.Time `json:"capturedAt,omitempty"`
	// Index is the 1-based position of the image in the run (0 for run-level events).
	Index int `json:"index,omitempty"`
	Total int `json:"total,omitempty"`
}

// EventFunc receives events as they are produced.
type EventFunc func(Event)

// Failure records one input image that produced no output.
type Failure struct {
	File   string        `json:"file"`
	Reason FailureReason `json:"reason"`
	Detail string        `json:"detail,omitempty"`
}

// Result is the outcome of one engine pass. It is not modified after
// Process returns.
type Result struct {
	// Codes lists codes in the order they first produced an output.
	Codes []string `json:"codes"`
	// Groups maps each code to its output filenames in processing order.
	Groups    map[string][]string `json:"groups"`
	Total     int                 `json:"total"`
	Succeeded int                 `json:"succeeded"`
	Failures  []Failure           `json:"failures"`
	Events    []Event             `json:"events"`
	Cancelled bool                `json:"cancelled,omitempty"`
}

// Failed returns the number of failed images.
func (r *Result) Failed() int {
	return len(r.Failures)
}

// FailedFiles returns the failed input filenames in processing order.
func (r *Result) FailedFiles() []string {
	files := make([]string, len(r.Failures))
	for i, f := range r.Failures {
		files[i] = f.File
	}
	return files
}

// SuccessRate returns the percentage of images that produced an output.
func (r *Result) SuccessRate() float64 {
	if r.Total == 0 {
		return 0
	}
	return float64(r.Succeeded) * 100 / float64(r.Total)
}

// CounterMode selects how per-image sequence numbers are assigned.
type CounterMode string

const (
	// CounterShared uses one counter for the whole pass and resets it to 1
	// whenever the code changes. A code that reappears later restarts at 1,
	// which can produce duplicate output names.
	CounterShared CounterMode = "shared"
	// CounterPerCode keeps an independent counter per code that is never reset.
	CounterPerCode CounterMode = "per_code"
)

// SourceKind identifies where a run's images come from.
type SourceKind string

const (
	SourceArchive SourceKind = "archive"
	SourceFolder  SourceKind = "folder"
)

// RunPhase indicates the current stage of a run.
type RunPhase string

const (
	PhaseStarting   RunPhase = "starting"
	PhaseProcessing RunPhase = "processing"
	PhaseWriting    RunPhase = "writing"
	PhaseComplete   RunPhase = "complete"
	PhaseFailed     RunPhase = "failed"
	PhaseCancelled  RunPhase = "cancelled"
)

// Done reports whether the phase is terminal.
func (p RunPhase) Done() bool {
	return p == PhaseComplete || p == PhaseFailed || p == PhaseCancelled
}

// RunProgress represents the current state of a run.
type RunProgress struct {
	RunID       string     `json:"runId"`
	Source      SourceKind `json:"source"`
	Phase       RunPhase   `json:"phase"`
	CurrentFile string     `json:"currentFile,omitempty"`
	Total       int        `json:"total"`
	Current     int        `json:"current"`
	Succeeded   int        `json:"succeeded"`
	Failed      int        `json:"failed"`
	Error       string     `json:"error,omitempty"`
}

// Percent returns the progress as a percentage (0-100).
func (p RunProgress) Percent() int {
	if p.Total <= 0 {
		if p.Phase == PhaseComplete {
			return 100
		}
		return 0
	}
	return (p.Current * 100) / p.Total
}

package core

// engine.go implements the rename pass.
//
// Each image is handled completely (read, decode, encode, write, record)
// before the next one starts, and every handle and buffer for an image goes
// out of scope before moving on. Per-image failures are recorded and the
// pass continues; nothing but context cancellation stops it early.

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"
)

// EngineOptions configures an Engine.
type EngineOptions struct {
	// CounterMode selects sequence numbering. Defaults to CounterShared.
	CounterMode CounterMode

	// OnEvent, if set, receives every event as it is produced.
	OnEvent EventFunc

	// Now returns the event timestamp. Defaults to time.Now.
	Now func() time.Time
}

// Engine renames and re-encodes images according to a mapping table.
type Engine struct {
	mode    CounterMode
	onEvent EventFunc
	now     func() time.Time
}

// NewEngine creates an Engine.
func NewEngine(opts EngineOptions) *Engine {
	e := &Engine{
		mode:    opts.CounterMode,
		onEvent: opts.OnEvent,
		now:     opts.Now,
	}
	if e.mode == "" {
		e.mode = CounterShared
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

// sequencer hands out sequence numbers for output filenames.
type sequencer interface {
	// current returns the number the next image of code would get.
	current(code string) int
	// advance moves past the number just used by code.
	advance(code string)
}

// sharedSequencer is a single counter reset to 1 on every code change.
type sharedSequencer struct {
	code    string
	started bool
	n       int
}

func (s *sharedSequencer) current(code string) int {
	if !s.started || code != s.code {
		s.started = true
		s.code = code
		s.n = 1
	}
	return s.n
}

func (s *sharedSequencer) advance(string) {
	s.n = wrapSequence(s.n + 1)
}

// perCodeSequencer keeps an independent counter for every code.
type perCodeSequencer struct {
	n map[string]int
}

func (s *perCodeSequencer) current(code string) int {
	if _, ok := s.n[code]; !ok {
		s.n[code] = 1
	}
	return s.n[code]
}

func (s *perCodeSequencer) advance(code string) {
	s.n[code] = wrapSequence(s.current(code) + 1)
}

func wrapSequence(n int) int {
	if n > MaxSequence {
		return 1
	}
	return n
}

func newSequencer(mode CounterMode) sequencer {
	if mode == CounterPerCode {
		return &perCodeSequencer{n: make(map[string]int)}
	}
	return &sharedSequencer{}
}

// OutputName builds the output filename for an image.
func OutputName(sku, code string, seq int, ext string) string {
	return fmt.Sprintf("%s_%s_%02d%s", sku, code, seq, ext)
}

// SplitName returns the code and lowercase extension of an image filename.
func SplitName(filename string) (code, ext string) {
	rawExt := filepath.Ext(filename)
	stem := strings.TrimSuffix(filename, rawExt)
	return CodeOf(stem), strings.ToLower(rawExt)
}

// pass holds the state of one Process call.
type pass struct {
	engine  *Engine
	result  *Result
	written map[string]string // output name -> source filename
	total   int
}

func (p *pass) emit(ev Event) {
	ev.Time = p.engine.now()
	if ev.Index > 0 {
		ev.Total = p.total
	}
	p.result.Events = append(p.result.Events, ev)
	if p.engine.onEvent != nil {
		p.engine.onEvent(ev)
	}
}

func (p *pass) fail(index int, file string, reason FailureReason, err error) {
	f := Failure{File: file, Reason: reason}
	ev := Event{Index: index, File: file, Reason: reason}
	if reason == ReasonUnmapped {
		code, _ := SplitName(file)
		ev.Severity = SeverityWarning
		ev.Message = fmt.Sprintf("code %s not found in mapping, skipping %s", code, file)
	} else {
		f.Detail = err.Error()
		ev.Severity = SeverityError
		ev.Message = fmt.Sprintf("failed to process %s: %v", file, err)
	}
	p.result.Failures = append(p.result.Failures, f)
	p.emit(ev)
}

// Process runs the rename pass over refs in order, writing each output to
// sink. The returned Result always satisfies Total == Succeeded + Failed().
func (e *Engine) Process(ctx context.Context, refs []ImageRef, mapping *MappingTable, sink Sink) *Result {
	p := &pass{
		engine: e,
		result: &Result{
			Groups:   make(map[string][]string),
			Failures: []Failure{},
		},
		written: make(map[string]string),
		total:   len(refs),
	}

	if len(refs) == 0 {
		p.emit(Event{Severity: SeverityWarning, Message: "no images found in source"})
		return p.result
	}
	p.emit(Event{Severity: SeverityInfo, Message: fmt.Sprintf("processing %d images (%s counter)", len(refs), e.mode)})

	seq := newSequencer(e.mode)
	for i, ref := range refs {
		if err := ctx.Err(); err != nil {
			p.result.Cancelled = true
			p.emit(Event{Severity: SeverityWarning, Message: fmt.Sprintf("run stopped after %d of %d images: %v", i, len(refs), err)})
			break
		}
		p.result.Total++
		e.processOne(p, seq, i+1, ref, mapping, sink)
	}

	return p.result
}

func (e *Engine) processOne(p *pass, seq sequencer, index int, ref ImageRef, mapping *MappingTable, sink Sink) {
	file := ref.Name()
	code, ext := SplitName(file)
	n := seq.current(code)

	sku, ok := mapping.Lookup(code)
	if !ok {
		p.fail(index, file, ReasonUnmapped, nil)
		return
	}

	data, err := readRef(ref)
	if err != nil {
		p.fail(index, file, ReasonRead, err)
		return
	}

	var captured *time.Time
	if isJPEGExt(ext) {
		captured = captureTime(data)
	} else {
		ext = ".jpg"
	}

	encoded, err := toJPEG(data)
	if err != nil {
		reason := ReasonDecode
		var te *transcodeError
		if errors.As(err, &te) {
			reason = te.reason
		}
		p.fail(index, file, reason, err)
		return
	}

	name := OutputName(sku, code, n, ext)
	if err := sink.Put(name, encoded); err != nil {
		p.fail(index, file, ReasonWrite, err)
		return
	}

	if prev, dup := p.written[name]; dup {
		p.emit(Event{
			Index:    index,
			Severity: SeverityWarning,
			File:     file,
			Output:   name,
			Message:  fmt.Sprintf("output name %s was already used for %s and is reused for %s", name, prev, file),
		})
	}
	p.written[name] = file

	seq.advance(code)
	if _, seen := p.result.Groups[code]; !seen {
		p.result.Codes = append(p.result.Codes, code)
	}
	p.result.Groups[code] = append(p.result.Groups[code], name)
	p.result.Succeeded++
	p.emit(Event{
		Index:      index,
		Severity:   SeverityInfo,
		File:       file,
		Output:     name,
		CapturedAt: captured,
		Message:    fmt.Sprintf("processed %s -> %s", file, name),
	})
}

// readRef reads all bytes of an image and closes its handle.
func readRef(ref ImageRef) ([]byte, error) {
	rc, err := ref.Open()
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	return data, nil
}

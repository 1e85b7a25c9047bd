package core

// service.go runs rename jobs in the background.
//
// A run is validated synchronously (mapping parsed, source enumerated,
// output opened) so that callers get bad-input errors immediately. The image
// pass itself runs in a goroutine under the RunLimiter, publishing progress
// to any number of subscribers. Finished runs stay available for ResultTTL
// so their outputs can be downloaded, then are dropped.

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultRunTimeout is the maximum duration of a run.
const DefaultRunTimeout = 30 * time.Minute

// DefaultResultTTL is how long a finished run's outputs are kept.
const DefaultResultTTL = 30 * time.Minute

// historyTimeout bounds writes to the run store.
const historyTimeout = 5 * time.Second

var (
	// ErrRunNotFound is returned for unknown or expired run IDs.
	ErrRunNotFound = errors.New("run not found")

	// ErrRunCancelled is the error of a run stopped before it got a slot.
	ErrRunCancelled = errors.New("run cancelled")

	// ErrOutputUnavailable is returned when a run has no output of the
	// requested kind.
	ErrOutputUnavailable = errors.New("output not available")

	// ErrFolderModeDisabled is returned for folder runs when the service
	// was built without FolderMode.
	ErrFolderModeDisabled = errors.New("folder mode is disabled")
)

// ResultCSVName returns the annotated CSV filename for a run finished at t.
func ResultCSVName(t time.Time) string {
	return "resultado_" + t.Format("20060102_1504") + ".csv"
}

// ArchiveName returns the download filename of a run's output archive.
func ArchiveName(t time.Time) string {
	return "imagens_processadas_" + t.Format("20060102_1504") + ".zip"
}

// LogName returns the download filename of a run's log.
func LogName(t time.Time) string {
	return "log_" + t.Format("20060102_1504") + ".txt"
}

// ServiceOptions configures a Service. Zero values select defaults.
type ServiceOptions struct {
	Store       RunStore
	Limiter     *RunLimiter
	CounterMode CounterMode
	// FolderMode allows runs that read and write local folders.
	FolderMode bool
	RunTimeout time.Duration
	ResultTTL  time.Duration
	// WorkDir holds temporary output archives. Defaults to os.TempDir().
	WorkDir string
	Logger  *slog.Logger
	Now     func() time.Time
}

// Service provides the rename workflow to the web server and the CLI.
type Service struct {
	store      RunStore
	limiter    *RunLimiter
	mode       CounterMode
	folderMode bool
	runTimeout time.Duration
	resultTTL  time.Duration
	workDir    string
	log        *slog.Logger
	now        func() time.Time

	mu   sync.RWMutex
	runs map[string]*activeRun

	// pending counts runs from StartRun until their history is recorded.
	pending sync.WaitGroup
}

// NewService creates a Service.
func NewService(opts ServiceOptions) *Service {
	s := &Service{
		store:      opts.Store,
		limiter:    opts.Limiter,
		mode:       opts.CounterMode,
		folderMode: opts.FolderMode,
		runTimeout: opts.RunTimeout,
		resultTTL:  opts.ResultTTL,
		workDir:    opts.WorkDir,
		log:        opts.Logger,
		now:        opts.Now,
		runs:       make(map[string]*activeRun),
	}
	if s.store == nil {
		s.store = NewMemoryStore(0)
	}
	if s.limiter == nil {
		s.limiter = NewRunLimiter(0, 0)
	}
	if s.mode == "" {
		s.mode = CounterShared
	}
	if s.runTimeout <= 0 {
		s.runTimeout = DefaultRunTimeout
	}
	if s.resultTTL <= 0 {
		s.resultTTL = DefaultResultTTL
	}
	if s.workDir == "" {
		s.workDir = os.TempDir()
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// FolderMode reports whether folder runs are allowed.
func (s *Service) FolderMode() bool {
	return s.folderMode
}

// CounterMode returns the default counter mode of new runs.
func (s *Service) CounterMode() CounterMode {
	return s.mode
}

// RunRequest describes one run.
type RunRequest struct {
	Source SourceKind

	// MappingName is the uploaded table's filename, for logs and history.
	MappingName string
	Mapping     []byte

	// ArchivePath is the input archive of an archive run.
	ArchivePath string
	// ArchiveName is the archive's original filename.
	ArchiveName string
	// RemoveArchive deletes ArchivePath once the run has finished.
	RemoveArchive bool
	// OutputPath receives the output archive. A temporary file owned by the
	// service is used when empty.
	OutputPath string

	// SourceDir and DestDir are the folders of a folder run.
	SourceDir string
	DestDir   string

	// CounterMode overrides the service default when set.
	CounterMode CounterMode
}

func (r RunRequest) sourceName() string {
	if r.Source == SourceFolder {
		return r.SourceDir
	}
	if r.ArchiveName != "" {
		return r.ArchiveName
	}
	return filepath.Base(r.ArchivePath)
}

// RunResult is the outcome of a finished run.
type RunResult struct {
	RunID       string         `json:"runId"`
	Source      SourceKind     `json:"source"`
	SourceName  string         `json:"sourceName"`
	MappingName string         `json:"mappingName"`
	Encoding    Encoding       `json:"encoding"`
	MappedCodes int            `json:"mappedCodes"`
	CounterMode CounterMode    `json:"counterMode"`
	ClientIP    string         `json:"clientIp,omitempty"`
	Groups      []GroupSummary `json:"groups"`
	Result      *Result        `json:"result,omitempty"`
	// Events is the full run log: service messages and engine events.
	Events     []Event   `json:"events"`
	CSVName    string    `json:"csvName,omitempty"`
	DestDir    string    `json:"destDir,omitempty"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`

	csv         []byte
	archivePath string
	tempArchive bool
}

// Phase returns the terminal phase of the run.
func (r *RunResult) Phase() RunPhase {
	switch {
	case r.Error == ErrRunCancelled.Error():
		return PhaseCancelled
	case r.Error != "":
		return PhaseFailed
	case r.Result != nil && r.Result.Cancelled:
		return PhaseCancelled
	default:
		return PhaseComplete
	}
}

// Dropped returns how many images the per-folder cap discarded.
func (r *RunResult) Dropped() int {
	n := 0
	for _, g := range r.Groups {
		n += g.Dropped()
	}
	return n
}

// HasArchive reports whether an output archive can be downloaded.
func (r *RunResult) HasArchive() bool {
	return r.archivePath != ""
}

// HasCSV reports whether an annotated CSV was produced.
func (r *RunResult) HasCSV() bool {
	return r.csv != nil
}

// Log renders the run log as text, one event per line.
func (r *RunResult) Log() string {
	var b strings.Builder
	for _, ev := range r.Events {
		fmt.Fprintf(&b, "%s - %s - %s\n",
			ev.Time.Format("2006-01-02 15:04:05"),
			strings.ToUpper(string(ev.Severity)),
			ev.Message)
	}
	return b.String()
}

func (r *RunResult) note(t time.Time, sev Severity, format string, args ...any) {
	r.Events = append(r.Events, Event{Time: t, Severity: sev, Message: fmt.Sprintf(format, args...)})
}

func (r *RunResult) record() RunRecord {
	rec := RunRecord{
		ID:          r.RunID,
		Source:      r.Source,
		SourceName:  r.SourceName,
		MappingName: r.MappingName,
		Encoding:    r.Encoding,
		CounterMode: r.CounterMode,
		ClientIP:    r.ClientIP,
		Cancelled:   r.Phase() == PhaseCancelled,
		Error:       r.Error,
		StartedAt:   r.StartedAt,
		FinishedAt:  r.FinishedAt,
	}
	if r.Result != nil {
		rec.Total = r.Result.Total
		rec.Succeeded = r.Result.Succeeded
		rec.Failed = r.Result.Failed()
	}
	return rec
}

type activeRun struct {
	ID     string
	Cancel context.CancelFunc
	Done   chan struct{}

	// files are the work files the run owns until it expires.
	files []string

	mu        sync.Mutex
	progress  RunProgress
	result    *RunResult
	listeners []chan RunProgress
}

// update applies fn to the progress and notifies listeners.
func (r *activeRun) update(fn func(p *RunProgress)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	fn(&r.progress)
	for _, ch := range r.listeners {
		select {
		case ch <- r.progress:
		default:
			// Slow listener, skip this update.
		}
	}
}

// observe folds an engine event into the progress counters.
func (r *activeRun) observe(ev Event) {
	if ev.Index == 0 {
		return
	}
	r.update(func(p *RunProgress) {
		p.Current = ev.Index
		p.CurrentFile = ev.File
		switch {
		case ev.Reason != "":
			p.Failed++
		case ev.Severity == SeverityInfo && ev.Output != "":
			p.Succeeded++
		}
	})
}

// complete stores the result, sends the final progress and closes every
// listener. A listener whose buffer is full loses its oldest update so the
// terminal progress is always the last value it receives.
func (r *activeRun) complete(res *RunResult) {
	r.mu.Lock()
	r.result = res
	r.progress.Phase = res.Phase()
	r.progress.Error = res.Error
	r.progress.CurrentFile = ""
	for _, ch := range r.listeners {
		select {
		case ch <- r.progress:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- r.progress
		}
		close(ch)
	}
	r.listeners = nil
	r.mu.Unlock()

	close(r.Done)
}

// runJob is a validated request ready to execute.
type runJob struct {
	req      RunRequest
	clientIP string
	mode     CounterMode
	mapping  *MappingTable
	enum     *Enumeration
	sink     Sink
	// finish flushes the sink and writes the annotated table.
	finish func(res *RunResult) error
	// abort drops the output of a run that never started processing.
	abort func()
	// release frees the inputs.
	release func()
	// files are the work files created for or by the run.
	files []string
}

// StartRun validates req and starts the run in the background. It returns
// the run ID immediately; use SubscribeProgress and Wait to follow it.
func (s *Service) StartRun(ctx context.Context, req RunRequest) (string, error) {
	job, err := s.prepare(req)
	if err != nil {
		s.log.WarnContext(ctx, "run rejected", "source", req.Source, "error", err)
		return "", err
	}
	job.clientIP = ClientIPFromContext(ctx)

	id := uuid.New().String()
	runCtx, cancel := context.WithTimeout(context.Background(), s.runTimeout)

	run := &activeRun{
		ID:     id,
		Cancel: cancel,
		Done:   make(chan struct{}),
		files:  job.files,
		progress: RunProgress{
			RunID:  id,
			Source: req.Source,
			Phase:  PhaseStarting,
			Total:  job.enum.Count(),
		},
	}

	s.mu.Lock()
	s.runs[id] = run
	s.mu.Unlock()
	s.pending.Add(1)

	s.log.InfoContext(ctx, "run started",
		"run_id", id,
		"source", req.Source,
		"source_name", req.sourceName(),
		"images", job.enum.Count(),
		"codes", job.mapping.Len(),
	)

	go s.execute(runCtx, run, job)

	return id, nil
}

func (s *Service) prepare(req RunRequest) (*runJob, error) {
	mode := req.CounterMode
	if mode == "" {
		mode = s.mode
	}
	if mode != CounterShared && mode != CounterPerCode {
		return nil, fmt.Errorf("unknown counter mode %q", mode)
	}
	if len(req.Mapping) == 0 {
		return nil, errors.New("no file provided: mapping csv")
	}

	mapping, err := LoadMapping(bytes.NewReader(req.Mapping))
	if err != nil {
		return nil, err
	}

	job := &runJob{req: req, mode: mode, mapping: mapping}
	switch req.Source {
	case SourceArchive:
		err = s.prepareArchive(job)
	case SourceFolder:
		err = s.prepareFolder(job)
	default:
		err = fmt.Errorf("unknown source kind %q", req.Source)
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (s *Service) prepareArchive(job *runJob) error {
	req := job.req
	if req.ArchivePath == "" {
		return errors.New("no file provided: image archive")
	}

	enum, err := OpenZip(req.ArchivePath)
	if err != nil {
		return err
	}

	outPath := req.OutputPath
	var out *os.File
	if outPath == "" {
		out, err = os.CreateTemp(s.workDir, "skurename-*.zip")
	} else {
		out, err = os.Create(outPath)
	}
	if err != nil {
		enum.Close()
		return fmt.Errorf("create output archive: %w", err)
	}
	outPath = out.Name()
	temp := req.OutputPath == ""

	sink := NewZipSink(out)
	job.enum = enum
	job.sink = sink
	if temp {
		job.files = append(job.files, outPath)
	}
	if req.RemoveArchive {
		job.files = append(job.files, req.ArchivePath)
	}

	job.finish = func(res *RunResult) error {
		closeErr := sink.Close()
		if err := out.Close(); closeErr == nil {
			closeErr = err
		}
		if closeErr != nil {
			return fmt.Errorf("finish output archive: %w", closeErr)
		}
		res.archivePath = outPath
		res.tempArchive = temp

		var buf bytes.Buffer
		if err := WriteAnnotatedCSV(&buf, job.mapping, res.Result.Groups); err != nil {
			return err
		}
		res.csv = buf.Bytes()
		res.CSVName = ResultCSVName(res.FinishedAt)
		res.note(s.now(), SeverityInfo, "output archive ready with %d images", sink.Count())
		return nil
	}

	job.abort = func() {
		sink.Close()
		out.Close()
		if temp {
			os.Remove(outPath)
		}
	}
	job.release = func() {
		enum.Close()
		if req.RemoveArchive {
			os.Remove(req.ArchivePath)
		}
	}
	return nil
}

func (s *Service) prepareFolder(job *runJob) error {
	if !s.folderMode {
		return ErrFolderModeDisabled
	}
	req := job.req

	enum, err := ScanDir(req.SourceDir)
	if err != nil {
		return err
	}
	sink, err := NewDirSink(req.DestDir)
	if err != nil {
		return err
	}

	job.enum = enum
	job.sink = sink
	job.finish = func(res *RunResult) error {
		var buf bytes.Buffer
		if err := WriteAnnotatedCSV(&buf, job.mapping, res.Result.Groups); err != nil {
			return err
		}
		name := ResultCSVName(res.FinishedAt)
		dest := filepath.Join(sink.Dir(), name)
		if err := os.WriteFile(dest, buf.Bytes(), 0o644); err != nil {
			return fmt.Errorf("write result csv: %w", err)
		}
		res.csv = buf.Bytes()
		res.CSVName = name
		res.DestDir = sink.Dir()
		res.note(s.now(), SeverityInfo, "result CSV saved to %s", dest)
		return nil
	}
	job.abort = func() {}
	job.release = func() {}
	return nil
}

func (s *Service) execute(ctx context.Context, run *activeRun, job *runJob) {
	log := s.log.With("run_id", run.ID, "source", job.req.Source)

	res := &RunResult{
		RunID:       run.ID,
		Source:      job.req.Source,
		SourceName:  job.req.sourceName(),
		MappingName: job.req.MappingName,
		Encoding:    job.mapping.Encoding,
		MappedCodes: job.mapping.Len(),
		CounterMode: job.mode,
		ClientIP:    job.clientIP,
		Groups:      job.enum.Groups,
		StartedAt:   s.now(),
	}
	res.note(res.StartedAt, SeverityInfo, "SKU mapping loaded with %d codes (encoding: %s)", res.MappedCodes, res.Encoding)
	if dropped := res.Dropped(); dropped > 0 {
		res.note(s.now(), SeverityInfo, "%d images skipped by the limit of %d per folder", dropped, MaxImagesPerGroup)
	}
	for _, skipped := range job.enum.Skipped {
		res.note(s.now(), SeverityWarning, "folder skipped: %s", skipped)
	}

	acquired := false
	defer func() {
		job.release()
		run.Cancel()
		if res.FinishedAt.IsZero() {
			res.FinishedAt = s.now()
		}
		if res.Error != "" {
			res.note(res.FinishedAt, SeverityError, "%s", res.Error)
		}
		s.record(log, res)
		run.complete(res)
		s.cleanup(run.ID, res)

		log.Info("run finished",
			"phase", res.Phase(),
			"duration", res.FinishedAt.Sub(res.StartedAt),
		)

		// Released only after the run is recorded.
		if acquired {
			s.limiter.Release()
		}
		s.pending.Done()
	}()

	if err := s.limiter.Acquire(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			err = ErrRunCancelled
		}
		res.Error = err.Error()
		job.abort()
		return
	}
	acquired = true

	run.update(func(p *RunProgress) { p.Phase = PhaseProcessing })

	engine := NewEngine(EngineOptions{
		CounterMode: job.mode,
		Now:         s.now,
		OnEvent: func(ev Event) {
			run.observe(ev)
			logEvent(ctx, log, ev)
		},
	})
	res.Result = engine.Process(ctx, job.enum.Refs, job.mapping, job.sink)
	res.Events = append(res.Events, res.Result.Events...)

	run.update(func(p *RunProgress) { p.Phase = PhaseWriting })
	res.FinishedAt = s.now()
	if err := job.finish(res); err != nil {
		res.Error = err.Error()
	}
}

func logEvent(ctx context.Context, log *slog.Logger, ev Event) {
	level := slog.LevelDebug
	switch ev.Severity {
	case SeverityWarning:
		level = slog.LevelWarn
	case SeverityError:
		level = slog.LevelError
	}
	attrs := make([]any, 0, 6)
	if ev.File != "" {
		attrs = append(attrs, "file", ev.File)
	}
	if ev.Output != "" {
		attrs = append(attrs, "output", ev.Output)
	}
	if ev.Reason != "" {
		attrs = append(attrs, "reason", ev.Reason)
	}
	log.Log(ctx, level, ev.Message, attrs...)
}

func (s *Service) record(log *slog.Logger, res *RunResult) {
	ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
	defer cancel()

	if err := s.store.RecordRun(ctx, res.record()); err != nil {
		log.Warn("failed to record run history", "error", err)
	}
}

// cleanup forgets the run and removes its temporary output after the TTL.
func (s *Service) cleanup(runID string, res *RunResult) {
	time.AfterFunc(s.resultTTL, func() {
		s.mu.Lock()
		delete(s.runs, runID)
		s.mu.Unlock()

		if res.tempArchive {
			os.Remove(res.archivePath)
		}
	})
}

func (s *Service) get(runID string) (*activeRun, error) {
	s.mu.RLock()
	run, ok := s.runs[runID]
	s.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return run, nil
}

// SubscribeProgress returns a channel that receives progress updates.
// The channel is closed when the run finishes.
func (s *Service) SubscribeProgress(runID string) (<-chan RunProgress, error) {
	run, err := s.get(runID)
	if err != nil {
		return nil, err
	}

	ch := make(chan RunProgress, 16)

	run.mu.Lock()
	defer run.mu.Unlock()

	ch <- run.progress
	if run.result != nil {
		close(ch)
		return ch, nil
	}
	run.listeners = append(run.listeners, ch)
	return ch, nil
}

// Progress returns the current progress without blocking.
func (s *Service) Progress(runID string) (RunProgress, error) {
	run, err := s.get(runID)
	if err != nil {
		return RunProgress{}, err
	}

	run.mu.Lock()
	defer run.mu.Unlock()
	return run.progress, nil
}

// Cancel stops a run. Images already written are kept.
func (s *Service) Cancel(runID string) error {
	run, err := s.get(runID)
	if err != nil {
		return err
	}
	run.Cancel()
	return nil
}

// Wait blocks until the run finishes or ctx is done.
func (s *Service) Wait(ctx context.Context, runID string) (*RunResult, error) {
	run, err := s.get(runID)
	if err != nil {
		return nil, err
	}

	select {
	case <-run.Done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	run.mu.Lock()
	defer run.mu.Unlock()
	return run.result, nil
}

// OpenArchive opens the output archive of a finished archive run.
func (s *Service) OpenArchive(ctx context.Context, runID string) (io.ReadCloser, *RunResult, error) {
	res, err := s.Wait(ctx, runID)
	if err != nil {
		return nil, nil, err
	}
	if !res.HasArchive() {
		return nil, res, fmt.Errorf("%w: archive", ErrOutputUnavailable)
	}
	f, err := os.Open(res.archivePath)
	if err != nil {
		return nil, res, fmt.Errorf("open output archive: %w", err)
	}
	return f, res, nil
}

// AnnotatedCSV returns the annotated table of a finished run.
func (s *Service) AnnotatedCSV(ctx context.Context, runID string) ([]byte, *RunResult, error) {
	res, err := s.Wait(ctx, runID)
	if err != nil {
		return nil, nil, err
	}
	if !res.HasCSV() {
		return nil, res, fmt.Errorf("%w: csv", ErrOutputUnavailable)
	}
	return res.csv, res, nil
}

// History returns the newest recorded runs.
func (s *Service) History(ctx context.Context, limit int) ([]RunRecord, error) {
	return s.store.ListRuns(ctx, limit)
}

// LimiterStatus reports run slot usage.
func (s *Service) LimiterStatus() RunLimiterStatus {
	return s.limiter.Status()
}

// Drain waits until every started run, queued ones included, has finished
// and been recorded in history.
func (s *Service) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.pending.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

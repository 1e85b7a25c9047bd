package core

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

const testMapping = "CÓDIGO,SKU\nAAA11,SKUA\nBBB22,SKUB\n"

var fixedNow = time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)

func newTestService(t *testing.T, opts ServiceOptions) *Service {
	t.Helper()
	if opts.WorkDir == "" {
		opts.WorkDir = t.TempDir()
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return fixedNow }
	}
	return NewService(opts)
}

func waitRun(t *testing.T, svc *Service, id string) *RunResult {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	res, err := svc.Wait(ctx, id)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	return res
}

func TestService_ArchiveRun(t *testing.T) {
	dir := t.TempDir()
	archive := writeZip(t, dir,
		zipEntry{name: "fotos/AAA11_1.jpg", body: jpegBytes(t)},
		zipEntry{name: "fotos/BBB22_1.png", body: pngBytes(t)},
		zipEntry{name: "fotos/ZZZ99_1.jpg", body: jpegBytes(t)},
	)
	store := NewMemoryStore(0)
	svc := newTestService(t, ServiceOptions{Store: store})

	id, err := svc.StartRun(context.Background(), RunRequest{
		Source:        SourceArchive,
		MappingName:   "mapa.csv",
		Mapping:       []byte(testMapping),
		ArchivePath:   archive,
		ArchiveName:   "fotos.zip",
		RemoveArchive: true,
	})
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}

	res := waitRun(t, svc, id)
	if res.Phase() != PhaseComplete {
		t.Fatalf("Phase = %s, error %q", res.Phase(), res.Error)
	}
	if res.Result.Total != 3 || res.Result.Succeeded != 2 || res.Result.Failed() != 1 {
		t.Errorf("counts = %d/%d/%d, want 3/2/1", res.Result.Total, res.Result.Succeeded, res.Result.Failed())
	}

	rc, _, err := svc.OpenArchive(context.Background(), id)
	if err != nil {
		t.Fatalf("OpenArchive: %v", err)
	}
	data, _ := io.ReadAll(rc)
	rc.Close()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("read output archive: %v", err)
	}
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	if diff := cmp.Diff([]string{"SKUA_AAA11_01.jpg", "SKUB_BBB22_01.jpg"}, names); diff != "" {
		t.Errorf("archive entries mismatch (-want +got):\n%s", diff)
	}

	csvData, _, err := svc.AnnotatedCSV(context.Background(), id)
	if err != nil {
		t.Fatalf("AnnotatedCSV: %v", err)
	}
	wantCSV := "CÓDIGO,SKU,IMAGES\nAAA11,SKUA,SKUA_AAA11_01.jpg\nBBB22,SKUB,SKUB_BBB22_01.jpg\n"
	if string(csvData) != wantCSV {
		t.Errorf("csv = %q, want %q", csvData, wantCSV)
	}
	if res.CSVName != "resultado_20240301_1030.csv" {
		t.Errorf("CSVName = %q", res.CSVName)
	}

	log := res.Log()
	for _, want := range []string{
		"2024-03-01 10:30:00 - INFO - SKU mapping loaded with 2 codes (encoding: utf-8)",
		"WARNING - code ZZZ99 not found in mapping",
		"INFO - processed AAA11_1.jpg -> SKUA_AAA11_01.jpg",
	} {
		if !strings.Contains(log, want) {
			t.Errorf("log missing %q:\n%s", want, log)
		}
	}

	if _, err := os.Stat(archive); !os.IsNotExist(err) {
		t.Errorf("input archive still present: %v", err)
	}

	history, err := svc.History(context.Background(), 10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 1 || history[0].ID != id || history[0].SourceName != "fotos.zip" || history[0].Succeeded != 2 {
		t.Errorf("history = %+v", history)
	}
}

func TestService_FolderRun(t *testing.T) {
	src := t.TempDir()
	dest := filepath.Join(t.TempDir(), "renamed")
	writeFile(t, filepath.Join(src, "AAA11_1.jpg"), jpegBytes(t))
	writeFile(t, filepath.Join(src, "AAA11_2.jpg"), jpegBytes(t))

	svc := newTestService(t, ServiceOptions{FolderMode: true})
	id, err := svc.StartRun(context.Background(), RunRequest{
		Source:    SourceFolder,
		Mapping:   []byte(testMapping),
		SourceDir: src,
		DestDir:   dest,
	})
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	res := waitRun(t, svc, id)
	if res.Phase() != PhaseComplete {
		t.Fatalf("Phase = %s, error %q", res.Phase(), res.Error)
	}

	entries, err := os.ReadDir(dest)
	if err != nil {
		t.Fatalf("read dest: %v", err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	want := []string{"SKUA_AAA11_01.jpg", "SKUA_AAA11_02.jpg", "resultado_20240301_1030.csv"}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Errorf("dest files mismatch (-want +got):\n%s", diff)
	}

	if res.HasArchive() {
		t.Error("folder run reports an output archive")
	}
	if _, _, err := svc.OpenArchive(context.Background(), id); !errors.Is(err, ErrOutputUnavailable) {
		t.Errorf("OpenArchive error = %v, want ErrOutputUnavailable", err)
	}
}

func TestService_StartRunRejects(t *testing.T) {
	archive := writeZip(t, t.TempDir(), zipEntry{name: "AAA11_1.jpg", body: []byte("x")})
	svc := newTestService(t, ServiceOptions{})

	tests := []struct {
		name string
		req  RunRequest
		want error
	}{
		{
			name: "folder mode disabled",
			req:  RunRequest{Source: SourceFolder, Mapping: []byte(testMapping), SourceDir: t.TempDir(), DestDir: t.TempDir()},
			want: ErrFolderModeDisabled,
		},
		{
			name: "mapping without columns",
			req:  RunRequest{Source: SourceArchive, Mapping: []byte("A,B\n1,2\n"), ArchivePath: archive},
			want: ErrMissingColumns,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.StartRun(context.Background(), tt.req); !errors.Is(err, tt.want) {
				t.Errorf("StartRun error = %v, want %v", err, tt.want)
			}
		})
	}

	bad := filepath.Join(t.TempDir(), "bad.zip")
	writeFile(t, bad, []byte("not a zip"))
	_, err := svc.StartRun(context.Background(), RunRequest{Source: SourceArchive, Mapping: []byte(testMapping), ArchivePath: bad})
	if got := MapError(err).Code; got != "SRC001" {
		t.Errorf("bad archive code = %s (err %v), want SRC001", got, err)
	}
}

func TestService_Progress(t *testing.T) {
	archive := writeZip(t, t.TempDir(),
		zipEntry{name: "AAA11_1.jpg", body: jpegBytes(t)},
		zipEntry{name: "ZZZ99_1.jpg", body: jpegBytes(t)},
	)
	limiter := NewRunLimiter(1, time.Second)
	if err := limiter.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}
	svc := newTestService(t, ServiceOptions{Limiter: limiter})

	id, err := svc.StartRun(context.Background(), RunRequest{Source: SourceArchive, Mapping: []byte(testMapping), ArchivePath: archive})
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	ch, err := svc.SubscribeProgress(id)
	if err != nil {
		t.Fatalf("SubscribeProgress: %v", err)
	}
	limiter.Release()

	var last RunProgress
	for p := range ch {
		last = p
	}
	want := RunProgress{RunID: id, Source: SourceArchive, Phase: PhaseComplete, Total: 2, Current: 2, Succeeded: 1, Failed: 1}
	if diff := cmp.Diff(want, last); diff != "" {
		t.Errorf("final progress mismatch (-want +got):\n%s", diff)
	}
	if last.Percent() != 100 {
		t.Errorf("Percent = %d, want 100", last.Percent())
	}

	// Subscribing after the run finished yields the final state once.
	late, err := svc.SubscribeProgress(id)
	if err != nil {
		t.Fatalf("late SubscribeProgress: %v", err)
	}
	if p := <-late; p.Phase != PhaseComplete {
		t.Errorf("late phase = %s", p.Phase)
	}
	if _, open := <-late; open {
		t.Error("late channel not closed")
	}
}

func TestService_CancelWhileQueued(t *testing.T) {
	archive := writeZip(t, t.TempDir(), zipEntry{name: "AAA11_1.jpg", body: jpegBytes(t)})
	limiter := NewRunLimiter(1, 5*time.Second)
	if err := limiter.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer limiter.Release()

	svc := newTestService(t, ServiceOptions{Limiter: limiter})
	id, err := svc.StartRun(context.Background(), RunRequest{Source: SourceArchive, Mapping: []byte(testMapping), ArchivePath: archive})
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	if err := svc.Cancel(id); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	res := waitRun(t, svc, id)
	if res.Phase() != PhaseCancelled {
		t.Errorf("Phase = %s, want cancelled", res.Phase())
	}
	if res.HasArchive() {
		t.Error("cancelled run kept an output archive")
	}
	if got := MapError(errors.New(res.Error)).Code; got != "RUN001" {
		t.Errorf("error code = %s, want RUN001", got)
	}
}

func TestService_Busy(t *testing.T) {
	archive := writeZip(t, t.TempDir(), zipEntry{name: "AAA11_1.jpg", body: jpegBytes(t)})
	limiter := NewRunLimiter(1, 20*time.Millisecond)
	if err := limiter.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer limiter.Release()

	svc := newTestService(t, ServiceOptions{Limiter: limiter})
	id, err := svc.StartRun(context.Background(), RunRequest{Source: SourceArchive, Mapping: []byte(testMapping), ArchivePath: archive})
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}

	res := waitRun(t, svc, id)
	if res.Phase() != PhaseFailed || res.Error != ErrTooManyRuns.Error() {
		t.Errorf("Phase, Error = %s, %q", res.Phase(), res.Error)
	}
}

func TestService_UnknownRun(t *testing.T) {
	svc := newTestService(t, ServiceOptions{})
	if _, err := svc.Progress("nope"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("Progress error = %v", err)
	}
	if err := svc.Cancel("nope"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("Cancel error = %v", err)
	}
	if _, err := svc.SubscribeProgress("nope"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("SubscribeProgress error = %v", err)
	}
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore(2)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		if err := store.RecordRun(ctx, RunRecord{ID: id}); err != nil {
			t.Fatal(err)
		}
	}

	got, err := store.ListRuns(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	var ids []string
	for _, r := range got {
		ids = append(ids, r.ID)
	}
	if diff := cmp.Diff([]string{"c", "b"}, ids); diff != "" {
		t.Errorf("ids mismatch (-want +got):\n%s", diff)
	}

	got, _ = store.ListRuns(ctx, 1)
	if len(got) != 1 || got[0].ID != "c" {
		t.Errorf("ListRuns(1) = %+v", got)
	}
}

func TestService_DrainWaitsForQueuedRuns(t *testing.T) {
	archive := writeZip(t, t.TempDir(), zipEntry{name: "AAA11_1.jpg", body: jpegBytes(t)})
	limiter := NewRunLimiter(1, 5*time.Second)
	if err := limiter.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}

	store := NewMemoryStore(0)
	svc := newTestService(t, ServiceOptions{Limiter: limiter, Store: store})
	id, err := svc.StartRun(context.Background(), RunRequest{Source: SourceArchive, Mapping: []byte(testMapping), ArchivePath: archive})
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}

	short, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := svc.Drain(short); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Drain with a queued run = %v, want deadline exceeded", err)
	}

	limiter.Release()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := svc.Drain(ctx); err != nil {
		t.Fatalf("Drain: %v", err)
	}

	// Everything is recorded by the time Drain returns.
	history, _ := store.ListRuns(context.Background(), 0)
	if len(history) != 1 || history[0].ID != id {
		t.Errorf("history after Drain = %+v", history)
	}
	if n := limiter.ActiveCount(); n != 0 {
		t.Errorf("ActiveCount after Drain = %d, want 0", n)
	}
}

func TestActiveRun_CompleteWithFullListener(t *testing.T) {
	run := &activeRun{ID: "r1", Done: make(chan struct{}), progress: RunProgress{RunID: "r1", Total: 40}}
	ch := make(chan RunProgress, 16)
	run.listeners = append(run.listeners, ch)

	for i := 1; i <= 40; i++ {
		run.update(func(p *RunProgress) {
			p.Phase = PhaseProcessing
			p.Current = i
		})
	}
	run.complete(&RunResult{RunID: "r1", Result: &Result{}})

	var last RunProgress
	received := 0
	for p := range ch {
		last = p
		received++
	}
	if received != 16 {
		t.Errorf("received %d updates, want 16", received)
	}
	if last.Phase != PhaseComplete || last.Current != 40 {
		t.Errorf("last update = %+v, want complete phase", last)
	}
}

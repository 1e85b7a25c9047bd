package core

import (
	"bytes"
	"context"
	"image/jpeg"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func TestOutputName(t *testing.T) {
	tests := []struct {
		sku, code string
		seq       int
		ext       string
		want      string
	}{
		{"SKU100", "ABC12", 1, ".jpg", "SKU100_ABC12_01.jpg"},
		{"SKU100", "ABC12", 6, ".jpeg", "SKU100_ABC12_06.jpeg"},
		{"7891", "AB", 2, ".jpg", "7891_AB_02.jpg"},
	}
	for _, tt := range tests {
		if got := OutputName(tt.sku, tt.code, tt.seq, tt.ext); got != tt.want {
			t.Errorf("OutputName(%q, %q, %d, %q) = %q, want %q", tt.sku, tt.code, tt.seq, tt.ext, got, tt.want)
		}
	}
}

func TestSplitName(t *testing.T) {
	tests := []struct {
		filename string
		code     string
		ext      string
	}{
		{"ABC12_1.png", "ABC12", ".png"},
		{"ABC12frente.JPG", "ABC12", ".jpg"},
		{"AB.jpeg", "AB", ".jpeg"},
		{"ÁÉÍÓÚX.gif", "ÁÉÍÓÚ", ".gif"},
		{"abc12.Bmp", "abc12", ".bmp"},
	}
	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			code, ext := SplitName(tt.filename)
			if code != tt.code || ext != tt.ext {
				t.Errorf("SplitName(%q) = (%q, %q), want (%q, %q)", tt.filename, code, ext, tt.code, tt.ext)
			}
		})
	}
}

func TestEngine_Process(t *testing.T) {
	mapping := NewMappingTable(
		MappingPair{Code: "ABC12", SKU: "SKU100"},
		MappingPair{Code: "AAA11", SKU: "SKUA"},
		MappingPair{Code: "BBB22", SKU: "SKUB"},
	)

	tests := []struct {
		name       string
		mode       CounterMode
		mapping    *MappingTable
		files      []string
		wantNames  []string
		wantGroups map[string][]string
		wantFailed []string
	}{
		{
			name:      "consecutive images of one code",
			files:     []string{"ABC12_1.png", "ABC12_2.jpg"},
			wantNames: []string{"SKU100_ABC12_01.jpg", "SKU100_ABC12_02.jpg"},
			wantGroups: map[string][]string{
				"ABC12": {"SKU100_ABC12_01.jpg", "SKU100_ABC12_02.jpg"},
			},
		},
		{
			name:      "shared counter restarts when a code reappears",
			files:     []string{"AAA11_1.jpg", "BBB22_1.jpg", "AAA11_2.jpg"},
			wantNames: []string{"SKUA_AAA11_01.jpg", "SKUB_BBB22_01.jpg", "SKUA_AAA11_01.jpg"},
			wantGroups: map[string][]string{
				"AAA11": {"SKUA_AAA11_01.jpg", "SKUA_AAA11_01.jpg"},
				"BBB22": {"SKUB_BBB22_01.jpg"},
			},
		},
		{
			name:      "per-code counter keeps counting",
			mode:      CounterPerCode,
			files:     []string{"AAA11_1.jpg", "BBB22_1.jpg", "AAA11_2.jpg"},
			wantNames: []string{"SKUA_AAA11_01.jpg", "SKUB_BBB22_01.jpg", "SKUA_AAA11_02.jpg"},
			wantGroups: map[string][]string{
				"AAA11": {"SKUA_AAA11_01.jpg", "SKUA_AAA11_02.jpg"},
				"BBB22": {"SKUB_BBB22_01.jpg"},
			},
		},
		{
			name: "sequence wraps after six",
			files: []string{
				"ABC12_1.jpg", "ABC12_2.jpg", "ABC12_3.jpg", "ABC12_4.jpg",
				"ABC12_5.jpg", "ABC12_6.jpg", "ABC12_7.jpg", "ABC12_8.jpg",
			},
			wantNames: []string{
				"SKU100_ABC12_01.jpg", "SKU100_ABC12_02.jpg", "SKU100_ABC12_03.jpg", "SKU100_ABC12_04.jpg",
				"SKU100_ABC12_05.jpg", "SKU100_ABC12_06.jpg", "SKU100_ABC12_01.jpg", "SKU100_ABC12_02.jpg",
			},
			wantGroups: map[string][]string{
				"ABC12": {
					"SKU100_ABC12_01.jpg", "SKU100_ABC12_02.jpg", "SKU100_ABC12_03.jpg", "SKU100_ABC12_04.jpg",
					"SKU100_ABC12_05.jpg", "SKU100_ABC12_06.jpg", "SKU100_ABC12_01.jpg", "SKU100_ABC12_02.jpg",
				},
			},
		},
		{
			name:      "unmapped code is skipped and resets the shared counter",
			files:     []string{"AAA11_1.jpg", "ZZZ99_1.jpg", "AAA11_2.jpg"},
			wantNames: []string{"SKUA_AAA11_01.jpg", "SKUA_AAA11_01.jpg"},
			wantGroups: map[string][]string{
				"AAA11": {"SKUA_AAA11_01.jpg", "SKUA_AAA11_01.jpg"},
			},
			wantFailed: []string{"ZZZ99_1.jpg"},
		},
		{
			name:       "empty mapping fails every image",
			mapping:    NewMappingTable(),
			files:      []string{"XYZ99_1.jpg"},
			wantGroups: map[string][]string{},
			wantFailed: []string{"XYZ99_1.jpg"},
		},
		{
			name:       "jpeg extension is kept",
			files:      []string{"ABC12_1.JPEG"},
			wantNames:  []string{"SKU100_ABC12_01.jpeg"},
			wantGroups: map[string][]string{"ABC12": {"SKU100_ABC12_01.jpeg"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := mapping
			if tt.mapping != nil {
				m = tt.mapping
			}
			sink := newMemSink()
			engine := NewEngine(EngineOptions{CounterMode: tt.mode})

			res := engine.Process(context.Background(), refs(t, tt.files...), m, sink)

			if diff := cmp.Diff(tt.wantNames, sink.names); diff != "" {
				t.Errorf("written names mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.wantGroups, res.Groups); diff != "" {
				t.Errorf("groups mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.wantFailed, res.FailedFiles(), cmpopts.EquateEmpty()); diff != "" {
				t.Errorf("failed files mismatch (-want +got):\n%s", diff)
			}
			if res.Total != len(tt.files) {
				t.Errorf("Total = %d, want %d", res.Total, len(tt.files))
			}
			if res.Total != res.Succeeded+res.Failed() {
				t.Errorf("Total %d != Succeeded %d + Failed %d", res.Total, res.Succeeded, res.Failed())
			}
		})
	}
}

func TestEngine_PNGBecomesJPEG(t *testing.T) {
	mapping := NewMappingTable(MappingPair{Code: "ABC12", SKU: "SKU100"})
	sink := newMemSink()
	in := []ImageRef{
		memRef{name: "ABC12_1.png", data: pngBytes(t)},
		memRef{name: "ABC12_2.gif", data: gifBytes(t)},
		memRef{name: "ABC12_3.bmp", data: bmpBytes(t)},
	}

	res := NewEngine(EngineOptions{}).Process(context.Background(), in, mapping, sink)
	if res.Succeeded != 3 {
		t.Fatalf("Succeeded = %d, want 3 (failures: %+v)", res.Succeeded, res.Failures)
	}

	for _, name := range sink.names {
		if !strings.HasSuffix(name, ".jpg") {
			t.Errorf("output %s does not have .jpg extension", name)
		}
		img, err := jpeg.Decode(bytes.NewReader(sink.files[name]))
		if err != nil {
			t.Errorf("output %s is not a JPEG: %v", name, err)
			continue
		}
		if got := img.Bounds().Dx(); got != 8 {
			t.Errorf("output %s width = %d, want 8", name, got)
		}
	}
}

func TestEngine_DecodeFailureContinues(t *testing.T) {
	mapping := NewMappingTable(MappingPair{Code: "ABC12", SKU: "SKU100"})
	sink := newMemSink()
	good := jpegBytes(t)
	in := []ImageRef{
		memRef{name: "ABC12_1.jpg", data: []byte("not an image")},
		memRef{name: "ABC12_2.jpg", data: good},
	}

	res := NewEngine(EngineOptions{}).Process(context.Background(), in, mapping, sink)

	want := []Failure{{File: "ABC12_1.jpg", Reason: ReasonDecode}}
	if diff := cmp.Diff(want, res.Failures, cmpopts.IgnoreFields(Failure{}, "Detail")); diff != "" {
		t.Errorf("failures mismatch (-want +got):\n%s", diff)
	}
	if !strings.Contains(res.Failures[0].Detail, "image decode error") {
		t.Errorf("Detail = %q, want decode error", res.Failures[0].Detail)
	}
	// The failed image did not consume a sequence number.
	if diff := cmp.Diff([]string{"SKU100_ABC12_01.jpg"}, sink.names); diff != "" {
		t.Errorf("written names mismatch (-want +got):\n%s", diff)
	}
}

func TestEngine_Events(t *testing.T) {
	mapping := NewMappingTable(
		MappingPair{Code: "AAA11", SKU: "SKUA"},
		MappingPair{Code: "BBB22", SKU: "SKUB"},
	)
	fixed := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	var streamed []Event
	engine := NewEngine(EngineOptions{
		Now:     func() time.Time { return fixed },
		OnEvent: func(ev Event) { streamed = append(streamed, ev) },
	})
	res := engine.Process(context.Background(),
		refs(t, "AAA11_1.jpg", "BBB22_1.jpg", "AAA11_2.jpg", "ZZZ99_1.jpg"),
		mapping, newMemSink())

	if diff := cmp.Diff(res.Events, streamed); diff != "" {
		t.Errorf("streamed events differ from result events (-result +streamed):\n%s", diff)
	}

	var severities []Severity
	for _, ev := range res.Events {
		severities = append(severities, ev.Severity)
		if !ev.Time.Equal(fixed) {
			t.Errorf("event time = %v, want %v", ev.Time, fixed)
		}
	}
	want := []Severity{
		SeverityInfo,    // start
		SeverityInfo,    // AAA11_1
		SeverityInfo,    // BBB22_1
		SeverityWarning, // AAA11_2 reuses an output name
		SeverityInfo,    // AAA11_2
		SeverityWarning, // ZZZ99 unmapped
	}
	if diff := cmp.Diff(want, severities); diff != "" {
		t.Errorf("severities mismatch (-want +got):\n%s", diff)
	}

	last := res.Events[len(res.Events)-1]
	if last.Reason != ReasonUnmapped || last.Index != 4 || last.Total != 4 {
		t.Errorf("unmapped event = %+v", last)
	}
	if !strings.Contains(last.Message, "ZZZ99") {
		t.Errorf("unmapped message %q does not name the code", last.Message)
	}
}

func TestEngine_EmptySource(t *testing.T) {
	res := NewEngine(EngineOptions{}).Process(context.Background(), nil, NewMappingTable(), newMemSink())

	if res.Total != 0 || res.Succeeded != 0 || res.Failed() != 0 {
		t.Errorf("counts = %d/%d/%d, want all zero", res.Total, res.Succeeded, res.Failed())
	}
	if len(res.Events) != 1 || res.Events[0].Severity != SeverityWarning {
		t.Errorf("events = %+v, want one warning", res.Events)
	}
	if res.SuccessRate() != 0 {
		t.Errorf("SuccessRate = %v, want 0", res.SuccessRate())
	}
}

func TestEngine_Cancelled(t *testing.T) {
	mapping := NewMappingTable(MappingPair{Code: "ABC12", SKU: "SKU100"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sink := newMemSink()
	res := NewEngine(EngineOptions{}).Process(ctx, refs(t, "ABC12_1.jpg", "ABC12_2.jpg"), mapping, sink)

	if !res.Cancelled {
		t.Error("Cancelled = false, want true")
	}
	if res.Total != 0 || len(sink.names) != 0 {
		t.Errorf("processed %d images after cancellation", res.Total)
	}
}

func TestEngine_Deterministic(t *testing.T) {
	mapping := NewMappingTable(
		MappingPair{Code: "AAA11", SKU: "SKUA"},
		MappingPair{Code: "BBB22", SKU: "SKUB"},
	)
	files := []string{"AAA11_1.jpg", "BBB22_1.jpg", "BBB22_2.png", "AAA11_2.jpg", "CCC33_1.jpg"}

	run := func() *Result {
		in := refs(t, files...)
		in[2] = memRef{name: "BBB22_2.png", data: pngBytes(t)}
		return NewEngine(EngineOptions{}).Process(context.Background(), in, mapping, newMemSink())
	}

	first, second := run(), run()
	if diff := cmp.Diff(first, second, cmpopts.IgnoreFields(Result{}, "Events")); diff != "" {
		t.Errorf("results differ between runs (-first +second):\n%s", diff)
	}
	if _, ok := first.Groups["CCC33"]; ok {
		t.Error("unmapped code CCC33 appears in groups")
	}
}

func TestEngine_CaptureTime(t *testing.T) {
	mapping := NewMappingTable(MappingPair{Code: "ABC12", SKU: "SKU100"})
	in := []ImageRef{
		memRef{name: "ABC12_1.jpg", data: exifJPEGBytes(t, "2023:11:05 14:22:09")},
		memRef{name: "ABC12_2.jpg", data: jpegBytes(t)},
	}

	res := NewEngine(EngineOptions{}).Process(context.Background(), in, mapping, newMemSink())
	if res.Succeeded != 2 {
		t.Fatalf("Succeeded = %d, want 2 (failures: %+v)", res.Succeeded, res.Failures)
	}

	captured := map[string]*time.Time{}
	for _, ev := range res.Events {
		if ev.Output != "" {
			captured[ev.File] = ev.CapturedAt
		}
	}
	got := captured["ABC12_1.jpg"]
	if got == nil {
		t.Fatal("CapturedAt not set for an image with EXIF")
	}
	if s := got.Format("2006:01:02 15:04:05"); s != "2023:11:05 14:22:09" {
		t.Errorf("CapturedAt = %s, want 2023:11:05 14:22:09", s)
	}
	if captured["ABC12_2.jpg"] != nil {
		t.Errorf("CapturedAt = %v for an image without EXIF", captured["ABC12_2.jpg"])
	}
}

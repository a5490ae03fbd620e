package model

import (
	"strings"
	"testing"

	"github.com/haptic-data/touch.report/internal/fsutil"
)

const sampleDescriptor = `{
  "sensors": [
    {"name": "fingertip", "taxels": 12, "rows": 3, "cols": 4, "threshold": 0.4},
    {"name": "palm", "taxels": 5}
  ]
}`

func loadSample(t *testing.T) *Descriptor {
	t.Helper()
	mfs := fsutil.NewMemoryFileSystem()
	if err := mfs.WriteFile("/etc/touch/sensors.json", []byte(sampleDescriptor), 0644); err != nil {
		t.Fatalf("seed descriptor: %v", err)
	}
	d, err := Load(mfs, "/etc/touch/sensors.json")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	return d
}

func TestLoad(t *testing.T) {
	d := loadSample(t)

	if len(d.Sensors) != 2 {
		t.Fatalf("got %d sensors, want 2", len(d.Sensors))
	}

	fingertip, ok := d.Sensor("fingertip")
	if !ok {
		t.Fatal("fingertip not found")
	}
	if fingertip.Taxels != 12 {
		t.Errorf("fingertip taxels = %d, want 12", fingertip.Taxels)
	}
	if fingertip.Threshold == nil || *fingertip.Threshold != 0.4 {
		t.Errorf("fingertip threshold = %v, want 0.4", fingertip.Threshold)
	}

	if _, ok := d.Sensor("wrist"); ok {
		t.Error("unknown sensor lookup should fail")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	mfs := fsutil.NewMemoryFileSystem()
	if _, err := Load(mfs, "/absent.json"); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoad_MalformedJSON(t *testing.T) {
	mfs := fsutil.NewMemoryFileSystem()
	mfs.WriteFile("/bad.json", []byte(`{"sensors": [`), 0644)
	if _, err := Load(mfs, "/bad.json"); err == nil {
		t.Error("expected error for malformed JSON")
	}
}

func TestValidate_Rejections(t *testing.T) {
	cases := []struct {
		name string
		json string
		want string
	}{
		{"empty name", `{"sensors":[{"name":"","taxels":3}]}`, "empty name"},
		{"duplicate name", `{"sensors":[{"name":"a","taxels":3},{"name":"a","taxels":3}]}`, "duplicate"},
		{"zero taxels", `{"sensors":[{"name":"a","taxels":0}]}`, "taxels"},
		{"rows without cols", `{"sensors":[{"name":"a","taxels":6,"rows":2}]}`, "together"},
		{"grid mismatch", `{"sensors":[{"name":"a","taxels":6,"rows":2,"cols":4}]}`, "grid"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mfs := fsutil.NewMemoryFileSystem()
			mfs.WriteFile("/d.json", []byte(tc.json), 0644)
			_, err := Load(mfs, "/d.json")
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestNames(t *testing.T) {
	d := loadSample(t)

	names := d.Names()
	if len(names) != 2 || names[0] != "fingertip" || names[1] != "palm" {
		t.Errorf("Names() = %v", names)
	}
}

func TestThresholds(t *testing.T) {
	d := loadSample(t)

	thresholds := d.Thresholds()
	if len(thresholds) != 1 {
		t.Fatalf("Thresholds() = %v, want one entry", thresholds)
	}
	if thresholds["fingertip"] != 0.4 {
		t.Errorf("fingertip override = %f, want 0.4", thresholds["fingertip"])
	}
}

func TestGrid(t *testing.T) {
	d := loadSample(t)

	fingertip, _ := d.Sensor("fingertip")
	rows, cols := fingertip.Grid()
	if rows != 3 || cols != 4 {
		t.Errorf("declared grid = %dx%d, want 3x4", rows, cols)
	}

	// palm has no declared layout, so a near-square one is derived.
	palm, _ := d.Sensor("palm")
	rows, cols = palm.Grid()
	if rows != 2 || cols != 3 {
		t.Errorf("derived grid = %dx%d, want 2x3", rows, cols)
	}
}

func TestGridFor(t *testing.T) {
	cases := []struct {
		n          int
		rows, cols int
	}{
		{0, 0, 0},
		{1, 1, 1},
		{4, 2, 2},
		{5, 2, 3},
		{12, 3, 4},
		{16, 4, 4},
		{17, 4, 5},
	}

	for _, tc := range cases {
		rows, cols := GridFor(tc.n)
		if rows != tc.rows || cols != tc.cols {
			t.Errorf("GridFor(%d) = %dx%d, want %dx%d", tc.n, rows, cols, tc.rows, tc.cols)
		}
		if tc.n > 0 && rows*cols < tc.n {
			t.Errorf("GridFor(%d) = %dx%d cannot hold %d cells", tc.n, rows, cols, tc.n)
		}
	}
}

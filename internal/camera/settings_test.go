package camera

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSnapshot() Snapshot {
	return Snapshot{
		ExposureMS:        5,
		ExposureRange:     Range{0, 100},
		BinningX:          1,
		BinningXRange:     Range{1, 4},
		BinningY:          1,
		BinningYRange:     Range{1, 4},
		SensorWidth:       1440,
		SensorHeight:      1080,
		ROIX:              0,
		ROIY:              0,
		ROIWidth:          1440,
		ROIHeight:         1080,
		FrameQueueSize:    1,
		TriggerType:       TriggerSoftware,
		TriggerCount:      1,
		Gain:              0,
		GainRange:         Range{0, 48},
		BlackLevel:        0,
		BlackLevelRange:   Range{0, 255},
		Freq:              "20 MHz",
		SupportedFreqs:    []string{"20 MHz", "40 MHz"},
		Taps:              "1",
		SupportedTaps:     []string{"1", "2"},
		SupportedTriggers: []string{TriggerSoftware, TriggerHardware},
		ColorGain:         [3]float64{1, 1, 1},
	}
}

func TestClamp(t *testing.T) {
	r := Range{Min: 0, Max: 100}
	assert.Equal(t, 0.0, r.Clamp(-3))
	assert.Equal(t, 100.0, r.Clamp(500))
	assert.Equal(t, 42.5, r.Clamp(42.5))
}

func TestWritable(t *testing.T) {
	for _, name := range AllSettings {
		assert.True(t, Writable(name, false), name)
	}
	for _, name := range PlaySettings {
		assert.True(t, Writable(name, true), name)
	}
	// Structural settings are idle-only.
	assert.False(t, Writable("roi_x", true))
	assert.False(t, Writable("binning_x", true))
	assert.False(t, Writable("trigger_type", true))
	// Unknown names are rejected in every mode.
	assert.False(t, Writable("bogus", false))
	assert.False(t, Writable("bogus", true))
}

func TestMergeUpdatesFields(t *testing.T) {
	snap := testSnapshot()
	changed, err := snap.Merge(map[string]any{
		"roi_x":     64,
		"roi_width": 1376,
		"gain":      int64(12),
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"roi_x", "roi_width", "gain"}, changed)
	assert.Equal(t, 64, snap.ROIX)
	assert.Equal(t, 1376, snap.ROIWidth)
	assert.Equal(t, 12, snap.Gain)
}

func TestMergeRejectsUnknownKey(t *testing.T) {
	snap := testSnapshot()
	_, err := snap.Merge(map[string]any{"wat": 1})
	assert.Error(t, err)
}

func TestMergeRejectsWrongType(t *testing.T) {
	snap := testSnapshot()
	_, err := snap.Merge(map[string]any{"exposure_ms": "fast"})
	assert.Error(t, err)
	_, err = snap.Merge(map[string]any{"trigger_type": 3})
	assert.Error(t, err)
	_, err = snap.Merge(map[string]any{"color_gain": []any{1.0, 2.0}})
	assert.Error(t, err)
}

func TestMapMergeRoundTrip(t *testing.T) {
	snap := testSnapshot()

	var restored Snapshot
	_, err := restored.Merge(snap.Map())
	require.NoError(t, err)

	if diff := cmp.Diff(snap, restored); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}
}

func TestRangeFor(t *testing.T) {
	snap := testSnapshot()

	r, ok := snap.RangeFor("exposure_ms")
	require.True(t, ok)
	assert.Equal(t, Range{0, 100}, r)

	_, ok = snap.RangeFor("trigger_type")
	assert.False(t, ok)
	_, ok = snap.RangeFor("roi_x")
	assert.False(t, ok)
}

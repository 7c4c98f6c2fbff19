package bikecep

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOverloadDetectorRejectsInvalidParams(t *testing.T) {
	_, err := NewOverloadDetector(0, 0.2, 0.8, 200)
	assert.ErrorIs(t, err, ErrInvalidTargetLatency)

	_, err = NewOverloadDetector(50, 0, 0.8, 200)
	assert.ErrorIs(t, err, ErrInvalidEMAAlpha)

	_, err = NewOverloadDetector(50, 0.2, 1, 200)
	assert.ErrorIs(t, err, ErrInvalidHysteresis)

	_, err = NewOverloadDetector(50, 0.2, 0.8, 0)
	assert.ErrorIs(t, err, ErrInvalidWindowEvents)
}

func TestOverloadDetectorEntersAndExitsWithHysteresis(t *testing.T) {
	d, err := NewOverloadDetector(10, 1.0, 0.8, 200)
	require.NoError(t, err)

	d.NoteMatchLatency(5)
	assert.False(t, d.Overloaded())

	d.NoteMatchLatency(50)
	assert.True(t, d.Overloaded())

	// Hysteresis: falling back just under target must NOT clear overload.
	d.NoteMatchLatency(9)
	assert.True(t, d.Overloaded(), "should still be overloaded until below target*hysteresis")

	d.NoteMatchLatency(7) // 7 <= 10*0.8
	assert.False(t, d.Overloaded())
}

func TestOverloadDetectorOvershootIsZeroWhenUnreachable(t *testing.T) {
	d, err := NewOverloadDetector(math.MaxFloat64/2, 0.2, 0.8, 200)
	require.NoError(t, err)
	d.NoteMatchLatency(1000)
	assert.False(t, d.Overloaded())
	assert.Equal(t, 0.0, d.Overshoot())
}

func TestOverloadDetectorOvershootRatio(t *testing.T) {
	d, err := NewOverloadDetector(10, 1.0, 0.8, 200)
	require.NoError(t, err)
	d.NoteMatchLatency(20)
	assert.InDelta(t, 1.0, d.Overshoot(), 1e-9)
}

func TestOverloadDetectorHistoryIsBounded(t *testing.T) {
	d, err := NewOverloadDetector(1000, 0.2, 0.8, 3)
	require.NoError(t, err)
	for i := 1; i <= 5; i++ {
		d.NoteMatchLatency(float64(i))
	}
	hist := d.History()
	require.Len(t, hist, 3)
	assert.Equal(t, []float64{3, 4, 5}, hist)
}

func TestOverloadDetectorUsesMaxOfBothSignals(t *testing.T) {
	d, err := NewOverloadDetector(10, 1.0, 0.8, 200)
	require.NoError(t, err)
	d.NoteEventLatency(50)
	assert.True(t, d.Overloaded())
	d.NoteMatchLatency(1)
	// match EMA is now 1, but event EMA is still 50 -> latest should stay 50
	assert.True(t, d.Overloaded())
}

func TestOverloadDetectorReset(t *testing.T) {
	d, err := NewOverloadDetector(10, 1.0, 0.8, 200)
	require.NoError(t, err)
	d.NoteMatchLatency(100)
	require.True(t, d.Overloaded())
	d.Reset()
	assert.False(t, d.Overloaded())
	assert.Equal(t, 0.0, d.Overshoot())
	assert.Empty(t, d.History())
}

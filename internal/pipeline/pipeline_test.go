package pipeline

import (
	"os"
	"testing"
	"time"

	"github.com/waveforge/netrender/internal/message"
	"go.uber.org/goleak"
)

// TestMain verifies no stage goroutine outlives its test; pipeline.Run
// loops are only meant to exit when their upstream reservoir is closed.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("testing.(*T).Run"),
		goleak.IgnoreTopFunction("runtime.gopark"),
	)
	os.Exit(m.Run())
}

func newTestFactory() *message.Factory {
	return message.NewFactory(message.FactoryConfig{
		ControlCells:      8,
		StreamCells:       4,
		AudioEncodedCells: 4,
		AudioPcmCells:     8,
		SilenceCells:      4,
		PlayableCells:     4,
	})
}

func testPcm(f *message.Factory, frames int) message.AudioPcm {
	data := make([]byte, frames*2*2) // stereo, 16-bit
	return f.CreateMsgAudioPcm(message.AudioPcmData{
		Data:       data,
		Channels:   2,
		BitDepth:   16,
		SampleRate: 48000,
	})
}

const testRamp = 10 * time.Millisecond

package speech

import (
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-audio/wav"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pcmOf(values ...int16) []byte {
	out := make([]byte, 2*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(v))
	}
	return out
}

func TestLibrary_WriteNode(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "audio")
	lib := NewLibrary(dir)

	assert.False(t, lib.HasNode("page-1"))
	require.NoError(t, lib.WriteNode("page-1", pcmOf(0, 1200, -1200, 32767, -32768)))
	assert.True(t, lib.HasNode("page-1"))

	f, err := os.Open(filepath.Join(dir, "page-1.wav"))
	require.NoError(t, err)
	defer f.Close()

	dec := wav.NewDecoder(f)
	require.True(t, dec.IsValidFile())
	buf, err := dec.FullPCMBuffer()
	require.NoError(t, err)

	assert.Equal(t, uint32(SampleRate), dec.SampleRate)
	assert.Equal(t, uint16(BitDepth), dec.BitDepth)
	assert.Equal(t, uint16(NumChannels), dec.NumChans)
	assert.Equal(t, []int{0, 1200, -1200, 32767, -32768}, buf.Data)

	leftovers, err := filepath.Glob(filepath.Join(dir, ".render-*"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestLibrary_Intro(t *testing.T) {
	lib := NewLibrary(t.TempDir())
	require.NoError(t, lib.WriteIntro(2, pcmOf(1, 2, 3)))
	assert.True(t, lib.HasIntro(2))
	assert.False(t, lib.HasIntro(0))
	assert.FileExists(t, filepath.Join(lib.Dir(), "intro-2.wav"))
}

func TestLibrary_RejectsPaths(t *testing.T) {
	lib := NewLibrary(t.TempDir())
	assert.False(t, lib.HasNode("../etc/passwd"))
	assert.Error(t, lib.WriteNode("a/b", pcmOf(1)))
	assert.Error(t, lib.WriteNode("ok", nil))
}

type flakyRenderer struct {
	failures int
	calls    int
}

func (f *flakyRenderer) Render(context.Context, string) ([]byte, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, errors.New("tts unavailable")
	}
	return pcmOf(7), nil
}

func TestRetrying(t *testing.T) {
	t.Run("recovers within cap", func(t *testing.T) {
		next := &flakyRenderer{failures: 2}
		r := WithRetry(next, 2, time.Millisecond, zerolog.Nop())

		pcm, err := r.Render(context.Background(), "Lee: hi")
		require.NoError(t, err)
		assert.Equal(t, pcmOf(7), pcm)
		assert.Equal(t, 3, next.calls)
	})

	t.Run("gives up after cap", func(t *testing.T) {
		next := &flakyRenderer{failures: 10}
		r := WithRetry(next, 1, time.Millisecond, zerolog.Nop())

		_, err := r.Render(context.Background(), "Lee: hi")
		require.Error(t, err)
		assert.ErrorContains(t, err, "tts unavailable")
		assert.Equal(t, 2, next.calls)
	})

	t.Run("zero retries is a single attempt", func(t *testing.T) {
		next := &flakyRenderer{failures: 1}
		r := WithRetry(next, 0, time.Millisecond, zerolog.Nop())

		_, err := r.Render(context.Background(), "Lee: hi")
		require.Error(t, err)
		assert.Equal(t, 1, next.calls)
	})
}

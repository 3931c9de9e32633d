package speech

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/natefinch/atomic"
)

// Audio format of every artifact
const (
	SampleRate  = 24000
	BitDepth    = 16
	NumChannels = 1

	pcmFormat = 1
)

// Library stores rendered audio as WAV files. The presence of a file is the
// only readiness signal, so files are published with an atomic rename.
type Library struct {
	dir string
}

func NewLibrary(dir string) *Library {
	return &Library{dir: dir}
}

// Dir returns the directory the artifacts live in
func (l *Library) Dir() string {
	return l.dir
}

// NodeFile is the file name of a page's audio
func NodeFile(id string) string {
	return id + ".wav"
}

// IntroFile is the file name of an introduction variant
func IntroFile(n int) string {
	return "intro-" + strconv.Itoa(n) + ".wav"
}

func (l *Library) HasNode(id string) bool {
	return l.has(NodeFile(id))
}

func (l *Library) HasIntro(n int) bool {
	return l.has(IntroFile(n))
}

func (l *Library) WriteNode(id string, pcm []byte) error {
	return l.write(NodeFile(id), pcm)
}

func (l *Library) WriteIntro(n int, pcm []byte) error {
	return l.write(IntroFile(n), pcm)
}

func (l *Library) has(name string) bool {
	if !validName(name) {
		return false
	}
	info, err := os.Stat(filepath.Join(l.dir, name))
	return err == nil && info.Mode().IsRegular()
}

func (l *Library) write(name string, pcm []byte) error {
	if !validName(name) {
		return fmt.Errorf("invalid audio file name %q", name)
	}
	if len(pcm) < 2 {
		return errors.New("no audio samples to write")
	}
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create audio directory: %w", err)
	}

	tmp, err := os.CreateTemp(l.dir, ".render-*.wav")
	if err != nil {
		return fmt.Errorf("failed to create temp audio file: %w", err)
	}
	defer os.Remove(tmp.Name())

	enc := wav.NewEncoder(tmp, SampleRate, BitDepth, NumChannels, pcmFormat)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: NumChannels, SampleRate: SampleRate},
		Data:           samples(pcm),
		SourceBitDepth: BitDepth,
	}
	if err := enc.Write(buf); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to encode %s: %w", name, err)
	}
	if err := enc.Close(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to finish %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", name, err)
	}

	if err := atomic.ReplaceFile(tmp.Name(), filepath.Join(l.dir, name)); err != nil {
		return fmt.Errorf("failed to publish %s: %w", name, err)
	}
	return nil
}

// samples decodes little endian 16-bit PCM; a trailing odd byte is dropped
func samples(pcm []byte) []int {
	out := make([]int, len(pcm)/2)
	for i := range out {
		out[i] = int(int16(binary.LittleEndian.Uint16(pcm[2*i:])))
	}
	return out
}

func validName(name string) bool {
	return name != "" && !strings.ContainsAny(name, `/\`) && !strings.HasPrefix(name, ".")
}

// Package audio inspects captured WAV clips without decoding samples.
package audio

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-audio/wav"
)

var ErrInvalidWAV = errors.New("invalid wav file")

// DefaultMinDuration drops accidental taps of the hotkey.
const DefaultMinDuration = 300 * time.Millisecond

type Info struct {
	Duration   time.Duration
	SampleRate int
	Channels   int
	BitDepth   int
}

func Inspect(path string) (Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return Info{}, fmt.Errorf("open wav: %w", err)
	}
	defer f.Close()

	decoder := wav.NewDecoder(f)
	if !decoder.IsValidFile() {
		return Info{}, fmt.Errorf("%s: %w", path, ErrInvalidWAV)
	}

	if err := decoder.FwdToPCM(); err != nil {
		return Info{}, fmt.Errorf("%s: locate pcm data: %w", path, err)
	}

	info := Info{
		SampleRate: int(decoder.SampleRate),
		Channels:   int(decoder.NumChans),
		BitDepth:   int(decoder.BitDepth),
	}
	bytesPerSecond := int64(info.SampleRate) * int64(info.Channels) * int64(info.BitDepth/8)
	if bytesPerSecond <= 0 {
		return Info{}, fmt.Errorf("%s: %w: zero byte rate", path, ErrInvalidWAV)
	}
	info.Duration = time.Duration(decoder.PCMLen() * int64(time.Second) / bytesPerSecond)
	return info, nil
}

// TooShort reports whether the clip at path is shorter than minimum. A
// non-positive minimum disables the check.
func TooShort(path string, minimum time.Duration) (bool, Info, error) {
	if minimum <= 0 {
		return false, Info{}, nil
	}
	info, err := Inspect(path)
	if err != nil {
		return false, Info{}, err
	}
	return info.Duration < minimum, info, nil
}

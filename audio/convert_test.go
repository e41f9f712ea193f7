package audio

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"
)

func pcm16Frames(samples ...int16) []byte {
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(s))
	}
	return data
}

func pcm16At(data []byte, i int) int16 {
	return int16(binary.LittleEndian.Uint16(data[i*2:]))
}

func sineBuffer(f Format, frames int) Buffer {
	data := make([]byte, frames*f.FrameSize())
	for i := 0; i < frames; i++ {
		v := 0.5 * math.Sin(float64(i)*0.05)
		for ch := 0; ch < f.Channels; ch++ {
			idx := i*f.Channels + ch
			switch f.Encoding {
			case EncodingPCM16:
				binary.LittleEndian.PutUint16(data[idx*2:], uint16(int16(v*32767)))
			case EncodingFloat32:
				binary.LittleEndian.PutUint32(data[idx*4:], math.Float32bits(float32(v)))
			}
		}
	}
	return Buffer{Format: f, Data: data}
}

func TestConvert_SameFormatIsZeroCopy(t *testing.T) {
	in := sineBuffer(WireFormat, 256)
	c, err := NewConverter(WireFormat, WireFormat)
	if err != nil {
		t.Fatalf("NewConverter() error = %v", err)
	}
	out, err := c.Convert(in)
	if err != nil {
		t.Fatalf("Convert() error = %v", err)
	}
	if &out.Data[0] != &in.Data[0] {
		t.Error("Convert() copied data for identical formats")
	}

	out, err = Convert(in, WireFormat)
	if err != nil || &out.Data[0] != &in.Data[0] {
		t.Errorf("Convert() helper copied data or failed: %v", err)
	}
}

func TestNewConverter_NegotiationFailures(t *testing.T) {
	tests := []struct {
		name     string
		src, dst Format
	}{
		{"stereo to 6 channels", PCM16(48000, 2), PCM16(48000, 6)},
		{"zero sample rate", PCM16(0, 1), WireFormat},
		{"unknown encoding", Format{SampleRate: 24000, Channels: 1}, WireFormat},
		{"too many channels", WireFormat, PCM16(24000, 16)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewConverter(tt.src, tt.dst)
			if !errors.Is(err, ErrConverterInitializationFailed) {
				t.Fatalf("NewConverter() error = %v, want ErrConverterInitializationFailed", err)
			}
			var convErr *ConversionError
			if !errors.As(err, &convErr) {
				t.Fatalf("error %T is not a *ConversionError", err)
			}
			if convErr.Src != tt.src || convErr.Dst != tt.dst {
				t.Errorf("ConversionError formats = %v -> %v", convErr.Src, convErr.Dst)
			}
		})
	}
}

func TestDestinationCapacity(t *testing.T) {
	tests := []struct {
		frames, src, dst, want int
	}{
		{4096, 48000, 24000, 2048},
		{4095, 24000, 16000, 2730},
		{4096, 24000, 16000, 2731},
		{4096, 44100, 24000, 2230},
		{1, 48000, 24000, 1},
		{0, 48000, 24000, 0},
		{100, 0, 24000, 0},
	}
	for _, tt := range tests {
		if got := DestinationCapacity(tt.frames, tt.src, tt.dst); got != tt.want {
			t.Errorf("DestinationCapacity(%d, %d, %d) = %d, want %d", tt.frames, tt.src, tt.dst, got, tt.want)
		}
	}
}

func TestConvert_OutputFitsCapacity(t *testing.T) {
	in := sineBuffer(Float32(44100, 1), DefaultChunkFrames)
	out, err := Convert(in, WireFormat)
	if err != nil {
		t.Fatalf("Convert() error = %v", err)
	}
	want := DestinationCapacity(DefaultChunkFrames, 44100, 24000)
	if out.Frames() > want {
		t.Errorf("Frames() = %d exceeds capacity %d", out.Frames(), want)
	}
	if cap(out.Data) != want*WireFormat.FrameSize() {
		t.Errorf("cap(Data) = %d, want %d", cap(out.Data), want*WireFormat.FrameSize())
	}
	if out.Format != WireFormat {
		t.Errorf("Format = %v, want %v", out.Format, WireFormat)
	}
}

func TestConvert_RoundTripWithinOneFrame(t *testing.T) {
	pairs := [][2]int{
		{48000, 24000}, {24000, 48000},
		{44100, 24000}, {24000, 44100},
		{16000, 24000}, {24000, 16000},
		{44100, 48000}, {48000, 44100},
	}
	lengths := []int{1, 17, 441, 1000, 4095, 4096, 4097}

	for _, p := range pairs {
		r1, r2 := PCM16(p[0], 1), PCM16(p[1], 1)
		there, err := NewConverter(r1, r2)
		if err != nil {
			t.Fatalf("NewConverter(%v, %v) error = %v", r1, r2, err)
		}
		back, err := NewConverter(r2, r1)
		if err != nil {
			t.Fatalf("NewConverter(%v, %v) error = %v", r2, r1, err)
		}
		for _, n := range lengths {
			mid, err := there.Convert(sineBuffer(r1, n))
			if err != nil {
				t.Fatalf("Convert() error = %v", err)
			}
			out, err := back.Convert(mid)
			if err != nil {
				t.Fatalf("Convert() back error = %v", err)
			}
			if d := out.Frames() - n; d < -1 || d > 1 {
				t.Errorf("%d -> %d -> %d: %d frames became %d", p[0], p[1], p[0], n, out.Frames())
			}
		}
	}
}

func TestConvert_StereoToMonoAverages(t *testing.T) {
	in := Buffer{Format: PCM16(24000, 2), Data: pcm16Frames(1000, 3000, -200, -400)}
	out, err := Convert(in, WireFormat)
	if err != nil {
		t.Fatalf("Convert() error = %v", err)
	}
	if out.Frames() != 2 {
		t.Fatalf("Frames() = %d, want 2", out.Frames())
	}
	if got := pcm16At(out.Data, 0); got != 2000 {
		t.Errorf("frame 0 = %d, want 2000", got)
	}
	if got := pcm16At(out.Data, 1); got != -300 {
		t.Errorf("frame 1 = %d, want -300", got)
	}
}

func TestConvert_MonoToStereoDuplicates(t *testing.T) {
	in := Buffer{Format: WireFormat, Data: pcm16Frames(1234, -42)}
	out, err := Convert(in, PCM16(24000, 2))
	if err != nil {
		t.Fatalf("Convert() error = %v", err)
	}
	want := []int16{1234, 1234, -42, -42}
	for i, w := range want {
		if got := pcm16At(out.Data, i); got != w {
			t.Errorf("sample %d = %d, want %d", i, got, w)
		}
	}
}

func TestConvert_PCM16Float32RoundTripIsExact(t *testing.T) {
	samples := []int16{0, 1, -1, 12345, -32768, 32767}
	in := Buffer{Format: WireFormat, Data: pcm16Frames(samples...)}

	f, err := Convert(in, Float32(24000, 1))
	if err != nil {
		t.Fatalf("Convert() to float error = %v", err)
	}
	if len(f.Data) != len(samples)*4 {
		t.Fatalf("float data length = %d", len(f.Data))
	}
	back, err := Convert(f, WireFormat)
	if err != nil {
		t.Fatalf("Convert() back error = %v", err)
	}
	for i, w := range samples {
		if got := pcm16At(back.Data, i); got != w {
			t.Errorf("sample %d = %d, want %d", i, got, w)
		}
	}
}

func TestConvert_ClampsOutOfRangeFloat(t *testing.T) {
	data := make([]byte, 8)
	binary.LittleEndian.PutUint32(data[0:], math.Float32bits(1.5))
	binary.LittleEndian.PutUint32(data[4:], math.Float32bits(-2))

	out, err := Convert(Buffer{Format: Float32(24000, 1), Data: data}, WireFormat)
	if err != nil {
		t.Fatalf("Convert() error = %v", err)
	}
	if got := pcm16At(out.Data, 0); got != math.MaxInt16 {
		t.Errorf("sample 0 = %d, want %d", got, math.MaxInt16)
	}
	if got := pcm16At(out.Data, 1); got != math.MinInt16 {
		t.Errorf("sample 1 = %d, want %d", got, math.MinInt16)
	}
}

func TestConverter_RejectsBadBuffers(t *testing.T) {
	c, err := NewConverter(PCM16(48000, 1), WireFormat)
	if err != nil {
		t.Fatalf("NewConverter() error = %v", err)
	}

	_, err = c.Convert(Buffer{Format: PCM16(44100, 1), Data: pcm16Frames(1, 2)})
	if !errors.Is(err, ErrFormatMismatch) {
		t.Errorf("Convert(wrong format) error = %v, want ErrFormatMismatch", err)
	}

	_, err = c.Convert(Buffer{Format: PCM16(48000, 1), Data: []byte{1, 2, 3}})
	if !errors.Is(err, ErrPartialFrame) {
		t.Errorf("Convert(partial frame) error = %v, want ErrPartialFrame", err)
	}

	out, err := c.Convert(Buffer{Format: PCM16(48000, 1)})
	if err != nil || out.Frames() != 0 {
		t.Errorf("Convert(empty) = %d frames, %v", out.Frames(), err)
	}
}

func TestConverter_SameFormatRejectsPartialFrame(t *testing.T) {
	c, err := NewConverter(WireFormat, WireFormat)
	if err != nil {
		t.Fatalf("NewConverter() error = %v", err)
	}
	if _, err := c.Convert(Buffer{Format: WireFormat, Data: []byte{1, 2, 3}}); !errors.Is(err, ErrPartialFrame) {
		t.Errorf("Convert(odd bytes) error = %v, want ErrPartialFrame", err)
	}
	if _, err := c.ConvertInto(nil, Buffer{Format: WireFormat, Data: []byte{1}}); !errors.Is(err, ErrPartialFrame) {
		t.Errorf("ConvertInto(odd bytes) error = %v, want ErrPartialFrame", err)
	}
	if _, err := Convert(Buffer{Format: WireFormat, Data: []byte{1, 2, 3}}, WireFormat); !errors.Is(err, ErrPartialFrame) {
		t.Errorf("Convert(odd bytes) error = %v, want ErrPartialFrame", err)
	}
}

func TestConverter_ConvertIntoReusesDestination(t *testing.T) {
	c, err := NewConverter(PCM16(48000, 1), WireFormat)
	if err != nil {
		t.Fatalf("NewConverter() error = %v", err)
	}
	in := sineBuffer(PCM16(48000, 1), 960)
	want, err := c.Convert(in)
	if err != nil {
		t.Fatalf("Convert() error = %v", err)
	}

	dst := make([]byte, 0, 480*2)
	out, err := c.ConvertInto(dst, in)
	if err != nil {
		t.Fatalf("ConvertInto() error = %v", err)
	}
	if &out.Data[0] != &dst[:1][0] {
		t.Error("ConvertInto() allocated despite enough room in dst")
	}
	if string(out.Data) != string(want.Data) {
		t.Error("ConvertInto() output differs from Convert()")
	}

	small := make([]byte, 0, 8)
	out, err = c.ConvertInto(small, in)
	if err != nil || out.Frames() != 480 {
		t.Errorf("ConvertInto(small dst) = %d frames, %v", out.Frames(), err)
	}
}

func TestConverter_ConvertIntoCopiesSameFormat(t *testing.T) {
	c, err := NewConverter(WireFormat, WireFormat)
	if err != nil {
		t.Fatalf("NewConverter() error = %v", err)
	}
	in := sineBuffer(WireFormat, 64)
	dst := make([]byte, 0, 128)
	out, err := c.ConvertInto(dst, in)
	if err != nil {
		t.Fatalf("ConvertInto() error = %v", err)
	}
	if &out.Data[0] == &in.Data[0] {
		t.Error("ConvertInto() aliased the input")
	}
	if &out.Data[0] != &dst[:1][0] {
		t.Error("ConvertInto() did not write into dst")
	}
	if string(out.Data) != string(in.Data) {
		t.Error("ConvertInto() changed the samples")
	}
}

func TestFormatHelpers(t *testing.T) {
	if WireFormat.FrameSize() != 2 {
		t.Errorf("FrameSize() = %d, want 2", WireFormat.FrameSize())
	}
	if got := Float32(48000, 2).FrameSize(); got != 8 {
		t.Errorf("FrameSize() = %d, want 8", got)
	}
	if got := WireFormat.Duration(2400).Milliseconds(); got != 100 {
		t.Errorf("Duration(2400) = %dms, want 100", got)
	}
	if got := WireFormat.String(); got != "24000Hz/1ch/pcm16" {
		t.Errorf("String() = %q", got)
	}
}

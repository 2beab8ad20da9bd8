package image

import (
	"errors"
	"math"
	"testing"
)

func TestNewImageBuf(t *testing.T) {
	tests := []struct {
		name    string
		width   int
		height  int
		format  Format
		wantErr error
	}{
		{"valid RGBA8", 100, 100, FormatRGBA8, nil},
		{"valid RGBA16F", 50, 50, FormatRGBA16F, nil},
		{"1x1 minimum", 1, 1, FormatRGBA8, nil},
		{"zero width", 0, 100, FormatRGBA8, ErrInvalidDimensions},
		{"zero height", 100, 0, FormatRGBA8, ErrInvalidDimensions},
		{"negative width", -1, 100, FormatRGBA8, ErrInvalidDimensions},
		{"invalid format", 100, 100, Format(255), ErrInvalidFormat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf, err := NewImageBuf(tt.width, tt.height, tt.format)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("NewImageBuf() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if err != nil {
				return
			}
			if buf.Width() != tt.width || buf.Height() != tt.height {
				t.Errorf("Bounds() = %dx%d, want %dx%d", buf.Width(), buf.Height(), tt.width, tt.height)
			}
			if buf.Format() != tt.format {
				t.Errorf("Format() = %v, want %v", buf.Format(), tt.format)
			}
			if want := tt.format.ImageBytes(tt.width, tt.height); len(buf.Data()) != want {
				t.Errorf("len(Data()) = %d, want %d", len(buf.Data()), want)
			}
		})
	}
}

func TestFromRaw(t *testing.T) {
	data := make([]byte, 2*2*4)
	buf, err := FromRaw(data, 2, 2, FormatRGBA8)
	if err != nil {
		t.Fatalf("FromRaw() error = %v", err)
	}
	_ = buf.SetRGBA(1, 1, 9, 8, 7, 6)
	if data[12] != 9 {
		t.Error("FromRaw should share the caller's slice")
	}

	if _, err := FromRaw(data[:8], 2, 2, FormatRGBA8); !errors.Is(err, ErrDataTooSmall) {
		t.Errorf("FromRaw(short) error = %v, want ErrDataTooSmall", err)
	}
}

func TestImageBufRGBARoundTrip(t *testing.T) {
	buf, _ := NewImageBuf(4, 3, FormatRGBA8)
	if err := buf.SetRGBA(2, 1, 10, 20, 30, 40); err != nil {
		t.Fatalf("SetRGBA() error = %v", err)
	}
	r, g, b, a := buf.GetRGBA(2, 1)
	if r != 10 || g != 20 || b != 30 || a != 40 {
		t.Errorf("GetRGBA() = (%d,%d,%d,%d), want (10,20,30,40)", r, g, b, a)
	}

	if err := buf.SetRGBA(4, 0, 0, 0, 0, 0); !errors.Is(err, ErrOutOfBounds) {
		t.Errorf("SetRGBA(out of bounds) error = %v, want ErrOutOfBounds", err)
	}
	if r, _, _, _ := buf.GetRGBA(-1, 0); r != 0 {
		t.Error("GetRGBA(out of bounds) should return zero")
	}
}

func TestImageBufHalfFloat(t *testing.T) {
	buf, _ := NewImageBuf(2, 2, FormatRGBA16F)
	if err := buf.SetFloat4(1, 0, 0.25, -3.5, 12, 1); err != nil {
		t.Fatalf("SetFloat4() error = %v", err)
	}
	c0, c1, c2, c3 := buf.GetFloat4(1, 0)
	want := [4]float32{0.25, -3.5, 12, 1}
	got := [4]float32{c0, c1, c2, c3}
	for i := range want {
		if math.Abs(float64(got[i]-want[i])) > 1e-3 {
			t.Errorf("channel %d = %v, want %v", i, got[i], want[i])
		}
	}

	// Byte view clamps to the displayable range.
	r, g, _, a := buf.GetRGBA(1, 0)
	if r != 64 || g != 0 || a != 255 {
		t.Errorf("GetRGBA() = (%d,%d,_,%d), want (64,0,_,255)", r, g, a)
	}
}

func TestImageBufSetFloat4Clamps(t *testing.T) {
	buf, _ := NewImageBuf(1, 1, FormatRGBA8)
	_ = buf.SetFloat4(0, 0, -1, 0.5, 2, float32(math.NaN()))
	r, g, b, a := buf.GetRGBA(0, 0)
	if r != 0 || g != 128 || b != 255 || a != 0 {
		t.Errorf("GetRGBA() = (%d,%d,%d,%d), want (0,128,255,0)", r, g, b, a)
	}
}

func TestImageBufFillFloat4(t *testing.T) {
	tests := []struct {
		name   string
		format Format
		in     [4]float32
		want   [4]float32
	}{
		{"half float", FormatRGBA16F, [4]float32{1, -2.5, 0.25, 0}, [4]float32{1, -2.5, 0.25, 0}},
		{"8-bit clamps", FormatRGBA8, [4]float32{1, -2.5, 2, 0}, [4]float32{1, 0, 1, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf, _ := NewImageBuf(5, 3, tt.format)
			buf.FillFloat4(tt.in[0], tt.in[1], tt.in[2], tt.in[3])
			for y := range 3 {
				for x := range 5 {
					c0, c1, c2, c3 := buf.GetFloat4(x, y)
					if got := [4]float32{c0, c1, c2, c3}; got != tt.want {
						t.Fatalf("pixel (%d,%d) = %v, want %v", x, y, got, tt.want)
					}
				}
			}
		})
	}
}

func TestImageBufFloat32Bytes(t *testing.T) {
	tests := []struct {
		name   string
		format Format
		in     [4]float32
		want   [4]float32
	}{
		{"half float", FormatRGBA16F, [4]float32{0.5, -3, 12, 1}, [4]float32{0.5, -3, 12, 1}},
		{"8-bit clamps", FormatRGBA8, [4]float32{1, -1, 0.2, 7}, [4]float32{1, 0, 51.0 / 255, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src, _ := NewImageBuf(3, 2, FormatRGBA16F)
			_ = src.SetFloat4(2, 1, tt.in[0], tt.in[1], tt.in[2], tt.in[3])
			p := src.Float32Bytes()
			if len(p) != 3*2*Float32Size {
				t.Fatalf("len = %d, want %d", len(p), 3*2*Float32Size)
			}

			dst, _ := NewImageBuf(3, 2, tt.format)
			if err := dst.SetFloat32Bytes(p); err != nil {
				t.Fatalf("SetFloat32Bytes: %v", err)
			}
			c0, c1, c2, c3 := dst.GetFloat4(2, 1)
			if got := [4]float32{c0, c1, c2, c3}; got != tt.want {
				t.Errorf("pixel (2,1) = %v, want %v", got, tt.want)
			}
			if c0, _, _, _ := dst.GetFloat4(0, 0); c0 != 0 {
				t.Errorf("pixel (0,0) c0 = %v, want 0", c0)
			}
			if err := dst.SetFloat32Bytes(p[:len(p)-1]); !errors.Is(err, ErrDataTooSmall) {
				t.Errorf("short input error = %v, want ErrDataTooSmall", err)
			}
		})
	}
}

func TestImageBufCopyFrom(t *testing.T) {
	src, _ := NewImageBuf(3, 3, FormatRGBA8)
	src.Fill(1, 2, 3, 4)
	dst, _ := NewImageBuf(3, 3, FormatRGBA8)

	if err := dst.CopyFrom(src); err != nil {
		t.Fatalf("CopyFrom() error = %v", err)
	}
	if r, _, _, a := dst.GetRGBA(2, 2); r != 1 || a != 4 {
		t.Errorf("GetRGBA() after copy = (%d,...,%d), want (1,...,4)", r, a)
	}

	other, _ := NewImageBuf(3, 2, FormatRGBA8)
	if err := dst.CopyFrom(other); !errors.Is(err, ErrSizeMismatch) {
		t.Errorf("CopyFrom(mismatch) error = %v, want ErrSizeMismatch", err)
	}
	half, _ := NewImageBuf(3, 3, FormatRGBA16F)
	if err := dst.CopyFrom(half); !errors.Is(err, ErrSizeMismatch) {
		t.Errorf("CopyFrom(format mismatch) error = %v, want ErrSizeMismatch", err)
	}
}

func TestImageBufClone(t *testing.T) {
	buf, _ := NewImageBuf(2, 2, FormatRGBA8)
	buf.Fill(5, 5, 5, 5)
	c := buf.Clone()
	buf.Clear()
	if r, _, _, _ := c.GetRGBA(0, 0); r != 5 {
		t.Error("Clone should not share data with the original")
	}
}

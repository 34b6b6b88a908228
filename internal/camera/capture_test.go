package camera

import (
	"bytes"
	"context"
	"slices"
	"strings"
	"testing"
)

func TestSplitJPEGFrames(t *testing.T) {
	var pending bytes.Buffer
	pending.Write([]byte{0x00, 0xFF, 0xD8, 1, 2, 0xFF, 0xD9, 0xFF, 0xD8, 3})

	frames := splitJPEGFrames(&pending)
	if len(frames) != 1 {
		t.Fatalf("Expected 1 frame, got %d", len(frames))
	}
	if !bytes.Equal(frames[0], []byte{0xFF, 0xD8, 1, 2, 0xFF, 0xD9}) {
		t.Errorf("unexpected frame: %v", frames[0])
	}
	// 途中のフレームは次の読み込みまで保持される
	if !bytes.Equal(pending.Bytes(), []byte{0xFF, 0xD8, 3}) {
		t.Errorf("unexpected remainder: %v", pending.Bytes())
	}

	pending.Write([]byte{4, 0xFF, 0xD9})
	frames = splitJPEGFrames(&pending)
	if len(frames) != 1 || !bytes.Equal(frames[0], []byte{0xFF, 0xD8, 3, 4, 0xFF, 0xD9}) {
		t.Errorf("unexpected frames: %v", frames)
	}
	if pending.Len() != 0 {
		t.Errorf("remainder should be empty, got %v", pending.Bytes())
	}
}

func TestReadRawStream(t *testing.T) {
	ctx := context.Background()
	frameChan := make(chan []byte, 4)

	// 3フレーム分と端数
	data := []byte{1, 1, 2, 2, 3, 3, 4}
	err := readRawStream(ctx, bytes.NewReader(data), 2, frameChan)
	if err == nil {
		t.Fatal("端数のあるストリームでエラーになりませんでした")
	}
	close(frameChan)

	var got [][]byte
	for f := range frameChan {
		got = append(got, f)
	}
	want := [][]byte{{1, 1}, {2, 2}, {3, 3}}
	if !slices.EqualFunc(got, want, bytes.Equal) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestParseControlList(t *testing.T) {
	output := strings.Join([]string{
		"User Controls",
		"",
		"                     brightness 0x00980900 (int)    : min=-64 max=64 step=1 default=0 value=10",
		"        white_balance_automatic 0x0098090c (bool)   : default=1 value=0",
		"                  auto_exposure 0x009a0901 (menu)   : min=0 max=3 default=3 value=1 (Manual Mode)",
	}, "\n")

	controls := parseControlList(output)
	if len(controls) != 3 {
		t.Fatalf("Expected 3 controls, got %d: %v", len(controls), controls)
	}

	b := controls["brightness"]
	if b.Min != -64 || b.Max != 64 || b.Step != 1 || b.Default != 0 || b.Value != 10 || b.Type != "int" {
		t.Errorf("unexpected brightness: %+v", b)
	}
	if w := controls["white_balance_automatic"]; w.Type != "bool" || w.Max != 1 || w.Default != 1 || w.Value != 0 {
		t.Errorf("unexpected white balance: %+v", w)
	}

	ctrl, ok := lookupControl(controls, v4l2AutoNames[ControlExposure])
	if !ok || ctrl.Name != "auto_exposure" || ctrl.Value != v4l2ExposureManual {
		t.Errorf("unexpected exposure lookup: %+v %v", ctrl, ok)
	}
}

func TestV4L2Capturer_FFmpegArgs(t *testing.T) {
	raw := NewV4L2Capturer("/dev/video0", 640, 480, 30, FormatGray)
	args := strings.Join(raw.ffmpegArgs(), " ")
	for _, want := range []string{"-video_size 640x480", "-framerate 30", "-i /dev/video0", "-f rawvideo", "-pix_fmt gray"} {
		if !strings.Contains(args, want) {
			t.Errorf("args %q missing %q", args, want)
		}
	}

	mjpeg := NewV4L2Capturer("/dev/video1", 1280, 720, 0, FormatMJPEG)
	args = strings.Join(mjpeg.ffmpegArgs(), " ")
	for _, want := range []string{"-input_format mjpeg", "-c:v copy", "-f image2pipe"} {
		if !strings.Contains(args, want) {
			t.Errorf("args %q missing %q", args, want)
		}
	}
	if strings.Contains(args, "-framerate") {
		t.Errorf("fps未指定なのに-framerateがあります: %q", args)
	}
}

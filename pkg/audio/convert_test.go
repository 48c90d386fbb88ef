package audio

import "testing"

func TestInt16ToFloat32(t *testing.T) {
	pcm := []byte{0x00, 0x00, 0xFF, 0x7F, 0x00, 0x80}
	out := Int16ToFloat32(pcm)
	if len(out) != 3 {
		t.Fatalf("expected 3 samples, got %d", len(out))
	}
	if out[0] != 0 {
		t.Errorf("expected 0, got %v", out[0])
	}
	if out[1] < 0.999 || out[1] > 1.0 {
		t.Errorf("expected near 1.0, got %v", out[1])
	}
	if out[2] != -1.0 {
		t.Errorf("expected -1.0, got %v", out[2])
	}
}

func TestFloat32ToInt16Clamps(t *testing.T) {
	out := Float32ToInt16([]float32{2.0, -2.0})
	if len(out) != 4 {
		t.Fatalf("expected 4 bytes, got %d", len(out))
	}
	back := Int16ToFloat32(out)
	if back[0] < 0.99 {
		t.Errorf("expected clamp to max, got %v", back[0])
	}
	if back[1] > -0.99 {
		t.Errorf("expected clamp to min, got %v", back[1])
	}
}

func TestStereoToMonoFloat32(t *testing.T) {
	out := StereoToMonoFloat32([]float32{1.0, 0.0, 0.5, 0.5, -1.0})
	if len(out) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(out))
	}
	if out[0] != 0.5 || out[1] != 0.5 {
		t.Errorf("expected [0.5 0.5], got %v", out)
	}
}

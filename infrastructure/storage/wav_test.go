package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/wav"
)

func TestWAVSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "preview.wav")
	sink, err := NewWAVSink(path, 44100)
	if err != nil {
		t.Fatal(err)
	}
	if err := sink.Write([]float32{0.5, 2}, []float32{-0.5, -2}); err != nil {
		t.Fatal(err)
	}
	if err := sink.Write([]float32{0}, []float32{1}); err != nil {
		t.Fatal(err)
	}
	if err := sink.Close(); err != nil {
		t.Fatal(err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		t.Fatal("not a valid WAV file")
	}
	if dec.NumChans != 2 || dec.SampleRate != 44100 || dec.BitDepth != 16 {
		t.Errorf("format = %d ch, %d Hz, %d bit", dec.NumChans, dec.SampleRate, dec.BitDepth)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		t.Fatal(err)
	}
	want := []int{16383, -16383, 32767, -32767, 0, 32767}
	if len(buf.Data) != len(want) {
		t.Fatalf("samples = %v", buf.Data)
	}
	for i := range want {
		if buf.Data[i] != want[i] {
			t.Errorf("sample %d = %d, want %d", i, buf.Data[i], want[i])
		}
	}
}

func TestWAVSinkRejectsBadRate(t *testing.T) {
	if _, err := NewWAVSink(filepath.Join(t.TempDir(), "x.wav"), 0); err == nil {
		t.Error("zero sample rate accepted")
	}
}

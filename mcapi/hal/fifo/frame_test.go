package fifo

import (
	"bytes"
	"testing"
)

func TestFrameWords(t *testing.T) {
	tests := []struct {
		n    int
		want int
	}{
		{0, 1},
		{1, 2},
		{4, 2},
		{5, 3},
		{37, 11},
		{1040, 261},
	}
	for _, tt := range tests {
		if got := FrameWords(tt.n); got != tt.want {
			t.Errorf("FrameWords(%d) = %d, want %d", tt.n, got, tt.want)
		}
	}
}

func TestEncodeFrame(t *testing.T) {
	header := []uint32{0x11, 0x22}
	payload := Words(nil, []byte{1, 2, 3, 4, 5})
	got := EncodeFrame(nil, header, payload, 5)
	want := []uint32{13, 0x11, 0x22, 0x04030201, 0x05}
	if len(got) != len(want) {
		t.Fatalf("EncodeFrame() = %#x, want %#x", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("word %d = %#x, want %#x", i, got[i], want[i])
		}
	}
	if len(got) != FrameWords(13) {
		t.Errorf("len(frame) = %d, want FrameWords(13) = %d", len(got), FrameWords(13))
	}
}

func TestWords(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want []uint32
	}{
		{"empty", nil, nil},
		{"one byte", []byte{0xAA}, []uint32{0xAA}},
		{"one word", []byte{1, 2, 3, 4}, []uint32{0x04030201}},
		{"padded", []byte{1, 2, 3, 4, 5, 6}, []uint32{0x04030201, 0x0605}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Words(nil, tt.data)
			if len(got) != len(tt.want) {
				t.Fatalf("Words() = %#x, want %#x", got, tt.want)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("Words()[%d] = %#x, want %#x", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func pattern(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i*7 + 3)
	}
	return data
}

func TestReassemblerRoundTrip(t *testing.T) {
	const maxSize = 1024
	for _, n := range []int{1, 4, 5, 37, maxSize} {
		data := pattern(n)
		frame := EncodeFrame(nil, nil, Words(nil, data), n)

		r := NewReassembler(0x04000000, maxSize)
		var got []byte
		for i, w := range frame {
			pdu, ok := r.Feed(w)
			if ok != (i == len(frame)-1) {
				t.Fatalf("L=%d: Feed() word %d ok = %v", n, i, ok)
			}
			if ok {
				if pdu.Base != 0x04000000 || int(pdu.Length) != n {
					t.Errorf("L=%d: PDU = {%#x %d}", n, pdu.Base, pdu.Length)
				}
				got = bytes.Clone(pdu.Data)
			}
		}
		if !bytes.Equal(got, data) {
			t.Errorf("L=%d: reassembled %x, want %x", n, got, data)
		}
	}
}

func TestReassemblerDropsOversize(t *testing.T) {
	r := NewReassembler(1, 8)
	big := EncodeFrame(nil, nil, Words(nil, pattern(12)), 12)
	small := EncodeFrame(nil, nil, Words(nil, []byte("ok")), 2)

	for _, w := range big {
		if _, ok := r.Feed(w); ok {
			t.Fatal("oversize frame delivered")
		}
	}
	if r.Dropped() != 1 {
		t.Errorf("Dropped() = %d, want 1", r.Dropped())
	}

	var got []byte
	for _, w := range small {
		if pdu, ok := r.Feed(w); ok {
			got = bytes.Clone(pdu.Data)
		}
	}
	if string(got) != "ok" {
		t.Errorf("frame after oversize = %q, want %q", got, "ok")
	}
}

func TestReassemblerSkipsZeroLength(t *testing.T) {
	r := NewReassembler(1, 16)
	if _, ok := r.Feed(0); ok {
		t.Fatal("zero length word produced a frame")
	}
	frame := EncodeFrame(nil, []uint32{0xCAFE}, nil, 0)
	var pdu []byte
	for _, w := range frame {
		if p, ok := r.Feed(w); ok {
			pdu = bytes.Clone(p.Data)
		}
	}
	if !bytes.Equal(pdu, []byte{0xFE, 0xCA, 0, 0}) {
		t.Errorf("frame = %x, want fe ca 00 00", pdu)
	}
}

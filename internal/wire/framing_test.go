package wire

import "testing"

func TestDelineatedFound(t *testing.T) {
	token, consumed, ok, err := Delineated([]byte("hello\nworld"), 16, '\n')
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected ok=true")
	}
	if token != "hello" {
		t.Errorf("token = %q, want %q", token, "hello")
	}
	if consumed != 6 {
		t.Errorf("consumed = %d, want 6", consumed)
	}
}

func TestDelineatedNeedMoreData(t *testing.T) {
	_, _, ok, err := Delineated([]byte("hello"), 16, '\n')
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false (need more data)")
	}
}

func TestDelineatedOverflow(t *testing.T) {
	// Exactly at the cap without the delimiter: overflow.
	buf := make([]byte, 16)
	for i := range buf {
		buf[i] = 'a'
	}
	_, _, _, err := Delineated(buf, 16, '\n')
	if err != ErrFramingOverflow {
		t.Fatalf("err = %v, want ErrFramingOverflow", err)
	}
}

func TestDelineatedHandshakeBoundary(t *testing.T) {
	// "@RSYNCD: 30.0\n" is 14 bytes; 16-byte cap allows it.
	line := "@RSYNCD: 30.0\n"
	if len(line) != 14 {
		t.Fatalf("test fixture changed length: %d", len(line))
	}
	padded := line // no padding: the line ends 2 bytes short of the 16-byte cap
	token, consumed, ok, err := Delineated([]byte(padded), len(line)+2, '\n')
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v, want ok=true err=nil", ok, err)
	}
	if token != "@RSYNCD: 30.0" {
		t.Errorf("token = %q", token)
	}
	if consumed != len(line) {
		t.Errorf("consumed = %d, want %d", consumed, len(line))
	}
}

func TestReadLEUint32(t *testing.T) {
	buf := WriteLEUint32(nil, 0x01020304)
	v, ok := ReadLEUint32(buf)
	if !ok {
		t.Fatal("expected ok=true")
	}
	if v != 0x01020304 {
		t.Errorf("v = %#x, want 0x01020304", v)
	}
	if buf[0] != 0x04 || buf[3] != 0x01 {
		t.Errorf("not little-endian on the wire: %x", buf)
	}
}

func TestReadLEUint32NeedMoreData(t *testing.T) {
	_, ok := ReadLEUint32([]byte{1, 2, 3})
	if ok {
		t.Fatal("expected ok=false with only 3 bytes")
	}
}

package netaddr

import "testing"

func TestParseFormatV4(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"10.0.0.0/8", "10.0.0.0/8"},
		{"127.0.0.1/22", "127.0.0.0/22"}, // tail bits beyond bitlen normalized
		{"8.2.2.1/32", "8.2.2.1/32"},
	}
	for _, c := range cases {
		a, err := Parse(c.in)
		if err != nil {
			t.Fatalf("Parse(%q): %v", c.in, err)
		}
		if got := a.String(); got != c.want {
			t.Errorf("Parse(%q).String() = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestParseFormatV6(t *testing.T) {
	a, err := Parse("2001:db8::/32")
	if err != nil {
		t.Fatal(err)
	}
	if got := a.String(); got != "2001:db8::/32" {
		t.Errorf("got %q", got)
	}
	if a.Family != V6 {
		t.Errorf("expected v6 family")
	}
}

func TestNewNormalizesTailBits(t *testing.T) {
	a, err := New(V4, 20, []byte{127, 0, 0, 1})
	if err != nil {
		t.Fatal(err)
	}
	b := a.Bytes()
	if len(b) != 3 {
		t.Fatalf("expected 3 significant bytes, got %d", len(b))
	}
	// 20 bits => first 2 bytes intact, third byte masked to top 4 bits
	if b[2]&0x0F != 0 {
		t.Errorf("tail bits not masked: %08b", b[2])
	}
}

func TestEqualIgnoresTrailingGarbage(t *testing.T) {
	a, _ := New(V4, 24, []byte{10, 0, 0, 99})
	b, _ := New(V4, 24, []byte{10, 0, 0, 0})
	if !a.Equal(b) {
		t.Errorf("expected equal prefixes regardless of masked tail byte")
	}
}

func TestDifferBit(t *testing.T) {
	a := MustParse("8.2.2.1/32")
	b := MustParse("8.2.2.5/32")
	db := DifferBit(a.Full16(), b.Full16(), 32)
	if db != 29 {
		t.Errorf("DifferBit = %d, want 29", db)
	}
}

func TestCtzClz(t *testing.T) {
	if Ctz32(0) != WordBits {
		t.Errorf("Ctz32(0) should be WordBits")
	}
	if Clz32(0) != WordBits {
		t.Errorf("Clz32(0) should be WordBits")
	}
	if Ctz32(8) != 3 {
		t.Errorf("Ctz32(8) = %d, want 3", Ctz32(8))
	}
}

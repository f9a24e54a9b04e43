package nzb

import (
	"errors"
	"strings"
	"testing"
)

const sampleNZB = `<?xml version="1.0" encoding="UTF-8"?>
<nzb xmlns="http://www.newzbin.com/DTD/2003/nzb">
  <head>
    <meta type="password">hunter2</meta>
    <meta type="category">tv</meta>
  </head>
  <file poster="poster@example.com" date="1700000000" subject="&quot;show.s01e01.mkv&quot; yEnc (1/2)">
    <groups>
      <group>alt.binaries.tv</group>
      <group>alt.binaries.misc</group>
    </groups>
    <segments>
      <segment bytes="716800" number="1">part1of2.abc@news.example.com</segment>
      <segment bytes="716800" number="2">part2of2.def@news.example.com</segment>
    </segments>
  </file>
  <file poster="poster@example.com" date="1700000100" subject="&quot;show.s01e01.vol00+01.par2&quot; yEnc (1/1)">
    <groups>
      <group>alt.binaries.tv</group>
    </groups>
    <segments>
      <segment bytes="51200" number="1">par2seg.ghi@news.example.com</segment>
    </segments>
  </file>
</nzb>`

func TestParse(t *testing.T) {
	model, md5sum, err := NewParser().Parse(strings.NewReader(sampleNZB))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if len(model.Files) != 2 {
		t.Fatalf("Expected 2 files, got %d", len(model.Files))
	}
	if md5sum == "" || len(md5sum) != 32 {
		t.Errorf("Expected a 32-char md5, got %q", md5sum)
	}

	f := model.Files[0]
	if len(f.Groups) != 2 || f.Groups[0] != "alt.binaries.tv" {
		t.Errorf("Groups wrong: %v", f.Groups)
	}
	if len(f.Segments) != 2 {
		t.Fatalf("Expected 2 segments, got %d", len(f.Segments))
	}
	if f.Segments[0].MessageID != "part1of2.abc@news.example.com" {
		t.Errorf("Message-id wrong: %q", f.Segments[0].MessageID)
	}
	if f.Segments[0].Bytes != 716800 || f.Segments[0].Number != 1 {
		t.Errorf("Segment attributes wrong: %+v", f.Segments[0])
	}

	if model.Password() != "hunter2" {
		t.Errorf("Expected embedded password, got %q", model.Password())
	}
	if model.PostDate().Unix() != 1700000000 {
		t.Errorf("PostDate should be the oldest file date, got %v", model.PostDate())
	}
}

func TestParseMD5IsStable(t *testing.T) {
	_, first, err := NewParser().Parse(strings.NewReader(sampleNZB))
	if err != nil {
		t.Fatal(err)
	}
	_, second, _ := NewParser().Parse(strings.NewReader(sampleNZB))
	if first != second {
		t.Error("Same document must hash to the same duplicate key")
	}

	_, other, _ := NewParser().Parse(strings.NewReader(sampleNZB + "\n"))
	if first == other {
		t.Error("Different documents must hash differently")
	}
}

func TestParseRejectsEmptyAndMalformed(t *testing.T) {
	_, _, err := NewParser().Parse(strings.NewReader(`<nzb xmlns="http://www.newzbin.com/DTD/2003/nzb"></nzb>`))
	if !errors.Is(err, ErrEmptyNZB) {
		t.Fatalf("Expected ErrEmptyNZB, got %v", err)
	}

	if _, _, err := NewParser().Parse(strings.NewReader("this is not xml")); err == nil {
		t.Fatal("Expected an error for malformed input")
	}
}

func TestSanitizeSubject(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{`[1/9] - "archive.part01.rar" yEnc (1/54)`, "archive.part01.rar"},
		{`show.s01e01.mkv yEnc (1/2)`, "show.s01e01.mkv"},
		{`[01/14] some.release.name yEnc`, "some.release.name"},
		{`&quot;quoted.bin&quot; yEnc (1/1)`, "quoted.bin"},
		{`"with/slash:colon.bin" yEnc`, "with_slash_colon.bin"},
	}

	for _, c := range cases {
		if got := SanitizeSubject(c.in); got != c.want {
			t.Errorf("SanitizeSubject(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestIsPar2(t *testing.T) {
	if ok, set := IsPar2("release.vol03+04.PAR2"); !ok || set != "release" {
		t.Errorf("Expected par2 volume of set 'release', got ok=%v set=%q", ok, set)
	}
	if ok, set := IsPar2("release.par2"); !ok || set != "release" {
		t.Errorf("Expected par2 index of set 'release', got ok=%v set=%q", ok, set)
	}
	if ok, _ := IsPar2("release.rar"); ok {
		t.Error("rar is not par2")
	}
}

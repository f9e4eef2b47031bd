package mcu

import (
	"testing"

	"anacomp/tinycompress"
)

const testDictJSON = `{"version":"anacomp-0.1.0","build_versions":"",` +
	`"config":{"ANALOG_COMP_NUM_INPUTS":"8","MCU":"sim"},` +
	`"commands":{"identify offset=%u count=%c":1,"analog_comp_wait timeout=%u":5},` +
	`"responses":{"identify_response offset=%u data=%*s":0,"analog_comp_event clock=%u count=%u":9},` +
	`"enumerations":{"analog_comp_edge":{"toggle":1,"falling":2,"rising":3}}}`

func TestParseDictionaryPlain(t *testing.T) {
	d, err := ParseDictionary([]byte(testDictJSON))
	if err != nil {
		t.Fatalf("ParseDictionary failed: %v", err)
	}
	checkTestDictionary(t, d)
}

func TestParseDictionaryCompressed(t *testing.T) {
	compressed := tinycompress.Compress([]byte(testDictJSON))
	d, err := ParseDictionary(compressed)
	if err != nil {
		t.Fatalf("ParseDictionary failed: %v", err)
	}
	checkTestDictionary(t, d)
}

func checkTestDictionary(t *testing.T, d *Dictionary) {
	t.Helper()
	if d.Version != "anacomp-0.1.0" {
		t.Errorf("Unexpected version %q", d.Version)
	}
	wait, ok := d.Command("analog_comp_wait")
	if !ok || wait.ID != 5 {
		t.Errorf("Expected analog_comp_wait with id 5, got %v", wait)
	}
	ev, ok := d.Response(9)
	if !ok || ev.Name != "analog_comp_event" {
		t.Errorf("Expected response 9 to be analog_comp_event, got %v", ev)
	}
	if _, ok := d.ResponseByName("identify_response"); !ok {
		t.Error("Expected identify_response by name")
	}
	if n, ok := d.ConfigUint("ANALOG_COMP_NUM_INPUTS"); !ok || n != 8 {
		t.Errorf("Expected 8 inputs, got %d %v", n, ok)
	}
	if _, ok := d.ConfigUint("MCU"); ok {
		t.Error("Expected non-numeric constant to fail ConfigUint")
	}
	if name, ok := d.EnumName("analog_comp_edge", 2); !ok || name != "falling" {
		t.Errorf("Expected edge 2 = falling, got %q", name)
	}
	if v, ok := d.EnumValue("analog_comp_edge", "rising"); !ok || v != 3 {
		t.Errorf("Expected rising = 3, got %d", v)
	}
	sigs := d.CommandSignatures()
	if len(sigs) != 2 || sigs[0] != "identify offset=%u count=%c" {
		t.Errorf("Expected commands in id order, got %v", sigs)
	}
}

func TestParseDictionaryErrors(t *testing.T) {
	if _, err := ParseDictionary([]byte("{")); err == nil {
		t.Error("Expected JSON error")
	}
	if _, err := ParseDictionary([]byte{0x78, 0x01, 0xFF}); err == nil {
		t.Error("Expected inflate error")
	}
	bad := `{"commands":{"cmd x=%z":1}}`
	if _, err := ParseDictionary([]byte(bad)); err == nil {
		t.Error("Expected format error")
	}
}

func TestBootstrapDictionary(t *testing.T) {
	d := bootstrapDictionary()
	if f, ok := d.Command("identify"); !ok || f.ID != IdentifyID {
		t.Errorf("Expected identify with id %d", IdentifyID)
	}
	if f, ok := d.Response(IdentifyResponseID); !ok || f.Name != "identify_response" {
		t.Error("Expected identify_response at id 0")
	}
}

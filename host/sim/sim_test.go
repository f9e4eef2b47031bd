package sim

import (
	"testing"

	"anacomp/core"
)

func TestComparatorPoweredOutput(t *testing.T) {
	c := NewComparator(8, true)
	c.SetLevel(true)
	if c.Output() {
		t.Error("Expected powered-down comparator to read low")
	}
	c.SetPowered(true)
	if !c.Output() {
		t.Error("Expected output high once powered")
	}
}

func TestComparatorConverterBits(t *testing.T) {
	c := NewComparator(8, true)
	if c.ConverterControl() != defaultConverterControl {
		t.Fatalf("Expected reset value 0x87, got 0x%02x", c.ConverterControl())
	}
	c.DisableConverter()
	if c.ConverterControl()&converterEnable != 0 {
		t.Error("Expected enable bit cleared")
	}
	c.SetConverterControl(defaultConverterControl)
	if c.ConverterControl() != defaultConverterControl {
		t.Error("Expected converter control restored")
	}
}

func TestSenseMatches(t *testing.T) {
	tests := []struct {
		bits   core.SenseBits
		rising bool
		want   bool
	}{
		{core.SenseRising, true, true},
		{core.SenseRising, false, false},
		{core.SenseFalling, false, true},
		{core.SenseFalling, true, false},
		{core.SenseToggle, true, true},
		{core.SenseToggle, false, true},
	}
	for _, tt := range tests {
		if got := senseMatches(tt.bits, tt.rising); got != tt.want {
			t.Errorf("senseMatches(%02b, %v) = %v, want %v", tt.bits, tt.rising, got, tt.want)
		}
	}
}

func TestCoreDrivesComparator(t *testing.T) {
	cmp := NewComparator(8, true)
	core.SetComparatorDriver(cmp)
	defer core.Shutdown()

	fired := 0
	if err := core.Configure(core.PositivePin, core.Channel(3), true); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	regs := cmp.Registers()
	if !regs.Powered || !regs.Multiplexer || regs.Channel != 3 || !regs.CaptureRedirect {
		t.Errorf("Unexpected registers after configure: %+v", regs)
	}
	if regs.DigitalInputs {
		t.Error("Expected digital input buffers disabled")
	}

	core.EnableInterrupt(func() { fired++ }, core.EdgeFalling)
	cmp.SetLevel(true)
	cmp.SetLevel(false)
	if fired != 1 {
		t.Errorf("Expected one falling-edge interrupt, got %d", fired)
	}

	core.Shutdown()
	regs = cmp.Registers()
	if regs.Powered || regs.Multiplexer || regs.InterruptEnabled || regs.CaptureRedirect {
		t.Errorf("Unexpected registers after shutdown: %+v", regs)
	}
	if regs.ConverterControl != defaultConverterControl {
		t.Errorf("Expected converter restored to 0x87, got 0x%02x", regs.ConverterControl)
	}
}

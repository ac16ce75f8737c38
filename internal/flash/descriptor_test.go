package flash

import "testing"

func TestBuildPartitionMarker(t *testing.T) {
	b := BuildPartitionMarker(0x1234)
	if len(b) != PartitionMarkerSize {
		t.Fatalf("len = %d, want %d", len(b), PartitionMarkerSize)
	}
	if string(b[0:4]) != "ILOP" {
		t.Errorf("magic = %q, want ILOP", b[0:4])
	}
	if b[4] != 0x34 || b[5] != 0x12 {
		t.Errorf("chip id bytes = %02x %02x, want 34 12", b[4], b[5])
	}
}

func TestBuildWriteDescriptorA1HasNORSelector(t *testing.T) {
	b, err := BuildWriteDescriptor(FamilyA1, 0x5678)
	if err != nil {
		t.Fatal(err)
	}
	if !HasNORSelector(b) {
		t.Error("A1 write descriptor missing NOR selector; burner would fall back to MMC mode")
	}
}

func TestBuildWriteDescriptorT31NoNORSelector(t *testing.T) {
	b, err := BuildWriteDescriptor(FamilyT31, 0x5678)
	if err != nil {
		t.Fatal(err)
	}
	if len(b) != WriteDescriptorSize {
		t.Fatalf("len = %d, want %d", len(b), WriteDescriptorSize)
	}
	if HasNORSelector(b) {
		t.Error("T31 write descriptor should not carry the A1 NOR selector by coincidence")
	}
}

func TestBuildWriteDescriptorT41Size(t *testing.T) {
	b, err := BuildWriteDescriptor(FamilyT41, 0x1111)
	if err != nil {
		t.Fatal(err)
	}
	if len(b) != T41NWriteDescriptorSize {
		t.Fatalf("len = %d, want %d", len(b), T41NWriteDescriptorSize)
	}
}

func TestBuildWriteDescriptorUnknownFamily(t *testing.T) {
	if _, err := BuildWriteDescriptor(Family(99), 0); err == nil {
		t.Fatal("expected error for unknown family")
	}
}

package flash

import (
	"testing"

	"thingino-cloner/internal/ident"
)

func TestStandardBanksCoverage(t *testing.T) {
	banks := StandardBanks()
	if len(banks) != BankCount {
		t.Fatalf("len(banks) = %d, want %d", len(banks), BankCount)
	}
	var total uint32
	for i, b := range banks {
		if !b.Enabled {
			t.Errorf("bank %d not enabled", i)
		}
		if b.Size != BankSize {
			t.Errorf("bank %d size = %d, want %d", i, b.Size, BankSize)
		}
		if b.Offset != uint32(i)*BankSize {
			t.Errorf("bank %d offset = %#x, want %#x", i, b.Offset, uint32(i)*BankSize)
		}
		total += b.Size
	}
	if total != BankCount*BankSize {
		t.Errorf("total bank coverage = %d, want %d", total, BankCount*BankSize)
	}
}

func TestFamilyOfClassification(t *testing.T) {
	cases := []struct {
		v    ident.Variant
		want Family
	}{
		{ident.T31, FamilyT31},
		{ident.T31X, FamilyT31},
		{ident.T31ZX, FamilyT31},
		{ident.T40, FamilyT41},
		{ident.T41, FamilyT41},
		{ident.T41N, FamilyT41},
		{ident.A1, FamilyA1},
	}
	for _, c := range cases {
		if got := FamilyOf(c.v); got != c.want {
			t.Errorf("FamilyOf(%v) = %v, want %v", c.v, got, c.want)
		}
	}
}

package ddrcfg

import "strings"

// processors is the embedded table of platform defaults, one entry per
// supported XBurst-family processor (spec.md §4.E: "a fixed in-memory
// table of ≈18 processor platform configs"). Frequencies chosen to match
// each processor's commonly-shipped reference configuration.
var processors = map[string]PlatformConfig{
	"t20":     {Key: "t20", CrystalFreq: 24_000_000, CPUFreq: 1_000_000_000, DDRFreq: 400_000_000, UARTBaud: 115200, MemSize: 64 << 20},
	"t21":     {Key: "t21", CrystalFreq: 24_000_000, CPUFreq: 1_000_000_000, DDRFreq: 533_000_000, UARTBaud: 115200, MemSize: 64 << 20},
	"t23":     {Key: "t23", CrystalFreq: 24_000_000, CPUFreq: 1_200_000_000, DDRFreq: 533_000_000, UARTBaud: 115200, MemSize: 128 << 20},
	"t30":     {Key: "t30", CrystalFreq: 24_000_000, CPUFreq: 1_200_000_000, DDRFreq: 533_000_000, UARTBaud: 115200, MemSize: 128 << 20},
	"t31":     {Key: "t31", CrystalFreq: 24_000_000, CPUFreq: 1_200_000_000, DDRFreq: 533_000_000, UARTBaud: 115200, MemSize: 64 << 20},
	"t31x":    {Key: "t31x", CrystalFreq: 24_000_000, CPUFreq: 576_000_000, DDRFreq: 400_000_000, UARTBaud: 115200, MemSize: 64 << 20},
	"t31zx":   {Key: "t31zx", CrystalFreq: 24_000_000, CPUFreq: 600_000_000, DDRFreq: 400_000_000, UARTBaud: 115200, MemSize: 64 << 20},
	"a1":      {Key: "a1", CrystalFreq: 24_000_000, CPUFreq: 900_000_000, DDRFreq: 300_000_000, UARTBaud: 115200, MemSize: 64 << 20},
	"t40":     {Key: "t40", CrystalFreq: 24_000_000, CPUFreq: 1_500_000_000, DDRFreq: 667_000_000, UARTBaud: 115200, MemSize: 256 << 20},
	"t41":     {Key: "t41", CrystalFreq: 24_000_000, CPUFreq: 1_500_000_000, DDRFreq: 667_000_000, UARTBaud: 115200, MemSize: 256 << 20},
	"t41n":    {Key: "t41n", CrystalFreq: 24_000_000, CPUFreq: 1_800_000_000, DDRFreq: 800_000_000, UARTBaud: 115200, MemSize: 256 << 20},
	"x1000":   {Key: "x1000", CrystalFreq: 24_000_000, CPUFreq: 1_008_000_000, DDRFreq: 396_000_000, UARTBaud: 115200, MemSize: 64 << 20},
	"x1500":   {Key: "x1500", CrystalFreq: 24_000_000, CPUFreq: 1_008_000_000, DDRFreq: 396_000_000, UARTBaud: 115200, MemSize: 64 << 20},
	"x1600":   {Key: "x1600", CrystalFreq: 24_000_000, CPUFreq: 1_200_000_000, DDRFreq: 533_000_000, UARTBaud: 115200, MemSize: 128 << 20},
	"x1830":   {Key: "x1830", CrystalFreq: 24_000_000, CPUFreq: 1_200_000_000, DDRFreq: 533_000_000, UARTBaud: 115200, MemSize: 128 << 20},
	"x2000":   {Key: "x2000", CrystalFreq: 24_000_000, CPUFreq: 1_200_000_000, DDRFreq: 533_000_000, UARTBaud: 115200, MemSize: 128 << 20},
	"x2500":   {Key: "x2500", CrystalFreq: 24_000_000, CPUFreq: 1_500_000_000, DDRFreq: 667_000_000, UARTBaud: 115200, MemSize: 256 << 20},
	"x2600":   {Key: "x2600", CrystalFreq: 24_000_000, CPUFreq: 1_500_000_000, DDRFreq: 667_000_000, UARTBaud: 115200, MemSize: 256 << 20},
}

// chips is the embedded table of ≈14 DDR-chip timing records (spec.md
// §4.E). Timings are given in picoseconds as the chip datasheet AC
// characteristics table would list them.
var chips = map[string]ChipConfig{
	"m14d1g1664a": {
		Name: "M14D1G1664A", Vendor: "ProMOS", Type: DDR2,
		RowBits: 13, ColBits: 10, CL: 7, BL: 8, RL: 7, WL: 6,
		Timings: Timings{TRAS: 40000, TRC: 55000, TRCD: 15000, TRP: 15000, TRFC: 105000, TRTP: 7500, TFAW: 35000, TRRD: 10000, TWTR: 7500, TWR: 15000, TREFI: 7800000, TCKE: 7500, TXP: 7500},
	},
	"h5ps1g63efr": {
		Name: "H5PS1G63EFR", Vendor: "Hynix", Type: DDR2,
		RowBits: 13, ColBits: 10, CL: 6, BL: 8, RL: 6, WL: 5,
		Timings: Timings{TRAS: 42000, TRC: 57750, TRCD: 15750, TRP: 15750, TRFC: 127500, TRTP: 7500, TFAW: 37500, TRRD: 10000, TWTR: 7500, TWR: 15000, TREFI: 7800000, TCKE: 7500, TXP: 7500},
	},
	"k4b2g1646q": {
		Name: "K4B2G1646Q", Vendor: "Samsung", Type: DDR3,
		RowBits: 15, ColBits: 10, CL: 11, BL: 8, RL: 11, WL: 8,
		Timings: Timings{TRAS: 35000, TRC: 48750, TRCD: 13750, TRP: 13750, TRFC: 160000, TRTP: 7500, TFAW: 30000, TRRD: 6000, TWTR: 7500, TWR: 15000, TREFI: 7800000, TCKE: 5625, TXP: 6000},
	},
	"k4b4g1646q": {
		Name: "K4B4G1646Q", Vendor: "Samsung", Type: DDR3,
		RowBits: 16, ColBits: 10, CL: 11, BL: 8, RL: 11, WL: 8,
		Timings: Timings{TRAS: 35000, TRC: 48750, TRCD: 13750, TRP: 13750, TRFC: 260000, TRTP: 7500, TFAW: 40000, TRRD: 6000, TWTR: 7500, TWR: 15000, TREFI: 7800000, TCKE: 5625, TXP: 6000},
	},
	"mt41k128m16": {
		Name: "MT41K128M16", Vendor: "Micron", Type: DDR3,
		RowBits: 14, ColBits: 10, CL: 11, BL: 8, RL: 11, WL: 8,
		Timings: Timings{TRAS: 35000, TRC: 48750, TRCD: 13750, TRP: 13750, TRFC: 160000, TRTP: 7500, TFAW: 30000, TRRD: 6000, TWTR: 7500, TWR: 15000, TREFI: 7800000, TCKE: 5625, TXP: 6000},
	},
	"mt41k256m16": {
		Name: "MT41K256M16", Vendor: "Micron", Type: DDR3,
		RowBits: 15, ColBits: 10, CL: 11, BL: 8, RL: 11, WL: 8,
		Timings: Timings{TRAS: 35000, TRC: 48750, TRCD: 13750, TRP: 13750, TRFC: 260000, TRTP: 7500, TFAW: 35000, TRRD: 6000, TWTR: 7500, TWR: 15000, TREFI: 7800000, TCKE: 5625, TXP: 6000},
	},
	"nt5cc256m16": {
		Name: "NT5CC256M16", Vendor: "Nanya", Type: DDR3,
		RowBits: 15, ColBits: 10, CL: 9, BL: 8, RL: 9, WL: 7,
		Timings: Timings{TRAS: 36000, TRC: 49500, TRCD: 13500, TRP: 13500, TRFC: 260000, TRTP: 7500, TFAW: 30000, TRRD: 6000, TWTR: 7500, TWR: 15000, TREFI: 7800000, TCKE: 5625, TXP: 6000},
	},
	"ea25la32akq": {
		Name: "EA25LA32AKQ", Vendor: "Etron", Type: LPDDR2,
		RowBits: 14, ColBits: 10, CL: 6, BL: 4, RL: 6, WL: 3,
		Timings: Timings{TRAS: 42000, TRC: 60000, TRCD: 18000, TRP: 18000, TRFC: 130000, TRTP: 7500, TFAW: 50000, TRRD: 10000, TWTR: 7500, TWR: 15000, TREFI: 3900000, TCKE: 7500, TXP: 7500},
	},
	"k4p4g324eb": {
		Name: "K4P4G324EB", Vendor: "Samsung", Type: LPDDR2,
		RowBits: 15, ColBits: 10, CL: 8, BL: 4, RL: 8, WL: 4,
		Timings: Timings{TRAS: 42000, TRC: 60000, TRCD: 18000, TRP: 18000, TRFC: 130000, TRTP: 7500, TFAW: 50000, TRRD: 10000, TWTR: 7500, TWR: 15000, TREFI: 3900000, TCKE: 7500, TXP: 7500},
	},
	"k4e6e304ee": {
		Name: "K4E6E304EE", Vendor: "Samsung", Type: LPDDR3,
		RowBits: 15, ColBits: 10, CL: 10, BL: 8, RL: 10, WL: 8,
		Timings: Timings{TRAS: 32000, TRC: 44000, TRCD: 12000, TRP: 12000, TRFC: 130000, TRTP: 7500, TFAW: 30000, TRRD: 6000, TWTR: 7500, TWR: 12000, TREFI: 3900000, TCKE: 5000, TXP: 5500},
	},
	"nt6cl128m32": {
		Name: "NT6CL128M32", Vendor: "Nanya", Type: LPDDR3,
		RowBits: 14, ColBits: 10, CL: 10, BL: 8, RL: 10, WL: 8,
		Timings: Timings{TRAS: 32000, TRC: 44000, TRCD: 12000, TRP: 12000, TRFC: 130000, TRTP: 7500, TFAW: 30000, TRRD: 6000, TWTR: 7500, TWR: 12000, TREFI: 3900000, TCKE: 5000, TXP: 5500},
	},
	"h5tc4g63cfr": {
		Name: "H5TC4G63CFR", Vendor: "Hynix", Type: DDR3,
		RowBits: 16, ColBits: 10, CL: 11, BL: 8, RL: 11, WL: 8,
		Timings: Timings{TRAS: 35000, TRC: 48750, TRCD: 13750, TRP: 13750, TRFC: 260000, TRTP: 7500, TFAW: 40000, TRRD: 6000, TWTR: 7500, TWR: 15000, TREFI: 7800000, TCKE: 5625, TXP: 6000},
	},
	"mt29tzzzgq": {
		Name: "MT29TZZZGQ", Vendor: "Micron", Type: DDR2,
		RowBits: 13, ColBits: 9, CL: 5, BL: 8, RL: 5, WL: 4,
		Timings: Timings{TRAS: 40000, TRC: 55000, TRCD: 15000, TRP: 15000, TRFC: 105000, TRTP: 7500, TFAW: 35000, TRRD: 10000, TWTR: 7500, TWR: 15000, TREFI: 7800000, TCKE: 7500, TXP: 7500},
	},
	"w632gu6mb": {
		Name: "W632GU6MB", Vendor: "Winbond", Type: DDR2,
		RowBits: 13, ColBits: 10, CL: 6, BL: 8, RL: 6, WL: 5,
		Timings: Timings{TRAS: 42000, TRC: 57750, TRCD: 15750, TRP: 15750, TRFC: 127500, TRTP: 7500, TFAW: 37500, TRRD: 10000, TWTR: 7500, TWR: 15000, TREFI: 7800000, TCKE: 7500, TXP: 7500},
	},
}

// defaultChip maps each processor to the chip its reference board ships
// with (spec.md §4.E: "plus a processor→default-chip mapping").
var defaultChip = map[string]string{
	"t20":   "h5ps1g63efr",
	"t21":   "k4b2g1646q",
	"t23":   "k4b4g1646q",
	"t30":   "k4b4g1646q",
	"t31":   "nt5cc256m16",
	"t31x":  "m14d1g1664a",
	"t31zx": "m14d1g1664a",
	"a1":    "ea25la32akq",
	"t40":   "mt41k256m16",
	"t41":   "mt41k256m16",
	"t41n":  "k4e6e304ee",
	"x1000": "k4p4g324eb",
	"x1500": "k4p4g324eb",
	"x1600": "mt41k128m16",
	"x1830": "mt41k128m16",
	"x2000": "mt41k256m16",
	"x2500": "h5tc4g63cfr",
	"x2600": "h5tc4g63cfr",
}

// LookupProcessor fetches a platform default by name, case-insensitive.
func LookupProcessor(name string) (PlatformConfig, bool) {
	p, ok := processors[strings.ToLower(name)]
	return p, ok
}

// LookupChip fetches a DDR chip timing record by name, case-insensitive.
func LookupChip(name string) (ChipConfig, bool) {
	c, ok := chips[strings.ToLower(name)]
	return c, ok
}

// DefaultChipFor returns the chip a processor's reference board ships
// with.
func DefaultChipFor(processor string) (ChipConfig, bool) {
	name, ok := defaultChip[strings.ToLower(processor)]
	if !ok {
		return ChipConfig{}, false
	}
	return LookupChip(name)
}

// Processors returns every known processor name, for enumeration/help
// text callers.
func Processors() []string {
	names := make([]string, 0, len(processors))
	for name := range processors {
		names = append(names, name)
	}
	return names
}

// Chips returns every known chip name.
func Chips() []string {
	names := make([]string, 0, len(chips))
	for name := range chips {
		names = append(names, name)
	}
	return names
}

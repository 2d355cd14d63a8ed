package stm32

import (
	"fmt"
	"sort"

	"github.com/k8snetworkplumbingwg/clocktree-daemon/pkg/regfield"
)

// Family describes the register layout of one STM32 series. Everything the
// engine needs to know about a series is data in this table.
type Family struct {
	Name string

	// RCCBase is the physical address of the RCC register block.
	RCCBase uint64
	// FlashBase is the physical address of the flash interface registers.
	FlashBase uint64
	// PWRBase is the physical address of the power controller registers.
	PWRBase uint64

	// Latency is the LATENCY field of FLASH_ACR, relative to FlashBase.
	Latency regfield.Field
	// WaitStates[n] is the highest HCLK rate supported with n wait states.
	WaitStates []uint32

	// BackupAccess is the backup domain write enable bit, relative to
	// PWRBase. Zero when the series has none.
	BackupAccess regfield.Field

	// Fields are the named RCC fields, usable from topology descriptions.
	Fields map[string]regfield.Field

	// Periph are the clock gates of PWR and SYSCFG, AlwaysOn lists the ones
	// that cannot (or need not) be gated.
	Periph   map[string]regfield.Field
	AlwaysOn []string

	AHBShifts []uint8
	APBShifts []uint8
	HasTIMPRE bool
}

// Field returns the named RCC field of the family.
func (f *Family) Field(name string) (regfield.Field, error) {
	fld, ok := f.Fields[name]
	if !ok {
		return regfield.Field{}, fmt.Errorf("family %s has no field %s", f.Name, name)
	}
	return fld, nil
}

// LatencyFor returns the number of flash wait states needed at hclk.
func (f *Family) LatencyFor(hclk uint32) (uint32, error) {
	for ws, max := range f.WaitStates {
		if hclk <= max {
			return uint32(ws), nil
		}
	}
	return 0, fmt.Errorf("%s: HCLK %d Hz above the maximum of %d Hz", f.Name, hclk, f.WaitStates[len(f.WaitStates)-1])
}

var families = map[string]*Family{
	"stm32c0": {
		Name:       "stm32c0",
		RCCBase:    0x40021000,
		FlashBase:  0x40022000,
		PWRBase:    0x40007000,
		Latency:    regfield.MustField(0x00, 0, 3),
		WaitStates: []uint32{24000000, 48000000},
		Fields: map[string]regfield.Field{
			"HSION":    regfield.Bit(0x00, 8),
			"HSIRDY":   regfield.Bit(0x00, 10),
			"HSIDIV":   regfield.MustField(0x00, 11, 3),
			"HSEON":    regfield.Bit(0x00, 16),
			"HSERDY":   regfield.Bit(0x00, 17),
			"HSEBYP":   regfield.Bit(0x00, 18),
			"SW":       regfield.MustField(0x08, 0, 3),
			"SWS":      regfield.MustField(0x08, 3, 3),
			"HPRE":     regfield.MustField(0x08, 8, 4),
			"PPRE":     regfield.MustField(0x08, 12, 3),
			"LSEON":    regfield.Bit(0x5C, 0),
			"LSERDY":   regfield.Bit(0x5C, 1),
			"LSEBYP":   regfield.Bit(0x5C, 2),
			"LSEDRV":   regfield.MustField(0x5C, 3, 2),
			"LSION":    regfield.Bit(0x60, 0),
			"LSIRDY":   regfield.Bit(0x60, 1),
			"USART1EN": regfield.Bit(0x40, 14),
		},
		Periph: map[string]regfield.Field{
			"PWR":    regfield.Bit(0x3C, 28),
			"SYSCFG": regfield.Bit(0x40, 0),
		},
		AHBShifts: AHBShifts,
		APBShifts: APBShifts,
	},
	"stm32h7": {
		Name:         "stm32h7",
		RCCBase:      0x58024400,
		FlashBase:    0x52002000,
		PWRBase:      0x58024800,
		Latency:      regfield.MustField(0x00, 0, 4),
		WaitStates:   []uint32{70000000, 140000000, 185000000, 210000000, 225000000},
		BackupAccess: regfield.Bit(0x00, 8),
		Fields: map[string]regfield.Field{
			"HSION":      regfield.Bit(0x00, 0),
			"HSIRDY":     regfield.Bit(0x00, 2),
			"HSIDIV":     regfield.MustField(0x00, 3, 2),
			"CSION":      regfield.Bit(0x00, 7),
			"CSIRDY":     regfield.Bit(0x00, 8),
			"HSEON":      regfield.Bit(0x00, 16),
			"HSERDY":     regfield.Bit(0x00, 17),
			"HSEBYP":     regfield.Bit(0x00, 18),
			"PLL1ON":     regfield.Bit(0x00, 24),
			"PLL1RDY":    regfield.Bit(0x00, 25),
			"SW":         regfield.MustField(0x10, 0, 3),
			"SWS":        regfield.MustField(0x10, 3, 3),
			"TIMPRE":     regfield.Bit(0x10, 15),
			"HPRE":       regfield.MustField(0x18, 0, 4),
			"D1PPRE":     regfield.MustField(0x18, 4, 3),
			"D1CPRE":     regfield.MustField(0x18, 8, 4),
			"D2PPRE1":    regfield.MustField(0x1C, 4, 3),
			"D2PPRE2":    regfield.MustField(0x1C, 8, 3),
			"D3PPRE":     regfield.MustField(0x20, 4, 3),
			"PLLSRC":     regfield.MustField(0x28, 0, 2),
			"DIVM1":      regfield.MustField(0x28, 4, 6),
			"PLL1FRACEN": regfield.Bit(0x2C, 0),
			"PLL1VCOSEL": regfield.Bit(0x2C, 1),
			"PLL1RGE":    regfield.MustField(0x2C, 2, 2),
			"DIVP1EN":    regfield.Bit(0x2C, 16),
			"DIVQ1EN":    regfield.Bit(0x2C, 17),
			"DIVR1EN":    regfield.Bit(0x2C, 18),
			"DIVN1":      regfield.MustField(0x30, 0, 9),
			"DIVP1":      regfield.MustField(0x30, 9, 7),
			"DIVQ1":      regfield.MustField(0x30, 16, 7),
			"DIVR1":      regfield.MustField(0x30, 24, 7),
			"FRACN1":     regfield.MustField(0x34, 3, 13),
			"LSEON":      regfield.Bit(0x70, 0),
			"LSERDY":     regfield.Bit(0x70, 1),
			"LSEBYP":     regfield.Bit(0x70, 2),
			"LSEDRV":     regfield.MustField(0x70, 3, 2),
		},
		Periph: map[string]regfield.Field{
			"SYSCFG": regfield.Bit(0xF4, 1),
		},
		AlwaysOn:  []string{"PWR"},
		AHBShifts: AHBShifts,
		APBShifts: APBShifts,
		HasTIMPRE: true,
	},
	"stm32f4": {
		Name:         "stm32f4",
		RCCBase:      0x40023800,
		FlashBase:    0x40023C00,
		PWRBase:      0x40007000,
		Latency:      regfield.MustField(0x00, 0, 4),
		WaitStates:   []uint32{30000000, 60000000, 90000000, 120000000, 150000000, 168000000},
		BackupAccess: regfield.Bit(0x00, 8),
		Fields: map[string]regfield.Field{
			"HSION":  regfield.Bit(0x00, 0),
			"HSIRDY": regfield.Bit(0x00, 1),
			"HSEON":  regfield.Bit(0x00, 16),
			"HSERDY": regfield.Bit(0x00, 17),
			"HSEBYP": regfield.Bit(0x00, 18),
			"PLLON":  regfield.Bit(0x00, 24),
			"PLLRDY": regfield.Bit(0x00, 25),
			"SW":     regfield.MustField(0x08, 0, 2),
			"SWS":    regfield.MustField(0x08, 2, 2),
			"HPRE":   regfield.MustField(0x08, 4, 4),
			"PPRE1":  regfield.MustField(0x08, 10, 3),
			"PPRE2":  regfield.MustField(0x08, 13, 3),
		},
		Periph: map[string]regfield.Field{
			"PWR":    regfield.Bit(0x40, 28),
			"SYSCFG": regfield.Bit(0x44, 14),
		},
		AHBShifts: AHBShifts,
		APBShifts: APBShifts,
	},
}

// LookupFamily returns the named family.
func LookupFamily(name string) (*Family, error) {
	f, ok := families[name]
	if !ok {
		return nil, fmt.Errorf("unknown STM32 family %q (known: %v)", name, Families())
	}
	return f, nil
}

// Families returns the known family names.
func Families() []string {
	names := make([]string, 0, len(families))
	for n := range families {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

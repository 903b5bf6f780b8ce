// Package account manages multiple prop firm accounts: per-account
// rules, real-time drawdown tracking and emergency flattening when a
// limit is breached.
package account

type FirmType string

const (
	FirmApex         FirmType = "APEX"
	FirmGetLeveraged FirmType = "GET_LEVERAGED"
	FirmDNAFunded    FirmType = "DNA_FUNDED"
	FirmE8Markets    FirmType = "E8_MARKETS"
	FirmGeneric      FirmType = "GENERIC"
)

// Rules codifies a prop firm's constraints. Every firm has different
// rules; violate them and the account is gone.
type Rules struct {
	Firm               FirmType
	DailyLossLimitPct  float64 // max daily drawdown %
	MaxTrailingDDPct   float64 // max trailing drawdown % from the high water mark
	MaxTotalDDPct      float64 // max total drawdown % from starting balance
	MaxPositions       int
	LotPer10K          float64 // lots per $10k equity when scaling across accounts
	ContractPer10K     float64 // index contracts per $10k equity
	UseTrailingDD      bool
	WeekendHolding     bool
	NewsLockoutMinutes int
	MaxLotSize         float64
	MinLotSize         float64
	FridayCloseUTC     int // flatten everything by this hour on Friday
}

var presets = map[FirmType]Rules{
	FirmApex: {
		Firm:               FirmApex,
		DailyLossLimitPct:  3.0,
		MaxTrailingDDPct:   6.0,
		MaxTotalDDPct:      8.0,
		MaxPositions:       5,
		LotPer10K:          0.01,
		ContractPer10K:     0.1,
		UseTrailingDD:      true,
		WeekendHolding:     false,
		NewsLockoutMinutes: 5,
		MaxLotSize:         5.0,
		MinLotSize:         0.01,
		FridayCloseUTC:     20,
	},
	FirmGetLeveraged: {
		Firm:               FirmGetLeveraged,
		DailyLossLimitPct:  5.0,
		MaxTotalDDPct:      10.0,
		MaxPositions:       5,
		LotPer10K:          0.01,
		ContractPer10K:     0.1,
		WeekendHolding:     true,
		NewsLockoutMinutes: 2,
		MaxLotSize:         5.0,
		MinLotSize:         0.01,
		FridayCloseUTC:     21,
	},
	FirmDNAFunded: {
		Firm:               FirmDNAFunded,
		DailyLossLimitPct:  5.0,
		MaxTotalDDPct:      10.0,
		MaxPositions:       3,
		LotPer10K:          0.01,
		ContractPer10K:     0.1,
		WeekendHolding:     false,
		NewsLockoutMinutes: 5,
		MaxLotSize:         5.0,
		MinLotSize:         0.01,
		FridayCloseUTC:     20,
	},
	FirmE8Markets: {
		Firm:               FirmE8Markets,
		DailyLossLimitPct:  5.0,
		MaxTotalDDPct:      8.0,
		MaxPositions:       3,
		LotPer10K:          0.01,
		ContractPer10K:     0.1,
		WeekendHolding:     false,
		NewsLockoutMinutes: 5,
		MaxLotSize:         5.0,
		MinLotSize:         0.01,
		FridayCloseUTC:     18,
	},
	FirmGeneric: {
		Firm:               FirmGeneric,
		DailyLossLimitPct:  5.0,
		MaxTotalDDPct:      10.0,
		MaxPositions:       3,
		LotPer10K:          0.01,
		ContractPer10K:     0.1,
		WeekendHolding:     true,
		NewsLockoutMinutes: 5,
		MaxLotSize:         5.0,
		MinLotSize:         0.01,
		FridayCloseUTC:     21,
	},
}

// PresetRules returns the rule set for a firm type, falling back to
// the generic preset for unknown firms.
func PresetRules(firm FirmType) Rules {
	if r, ok := presets[firm]; ok {
		return r
	}
	return presets[FirmGeneric]
}

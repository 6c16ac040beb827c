package fundraiser

import "github.com/brojonat/arbiter/service/ledger"

var (
	ErrTargetNotMet                = ledger.NewProgramError(1000, "TargetNotMet", "the amount to raise has not been met")
	ErrTargetMet                   = ledger.NewProgramError(1001, "TargetMet", "the amount to raise has been achieved")
	ErrContributionTooBig          = ledger.NewProgramError(1002, "ContributionTooBig", "the contribution is too big")
	ErrContributionTooSmall        = ledger.NewProgramError(1003, "ContributionTooSmall", "the contribution is too small")
	ErrMaximumContributionsReached = ledger.NewProgramError(1004, "MaximumContributionsReached", "the maximum amount to contribute has been reached")
	ErrFundraiserNotEnded          = ledger.NewProgramError(1005, "FundraiserNotEnded", "the fundraiser has not ended yet")
	ErrFundraiserEnded             = ledger.NewProgramError(1006, "FundraiserEnded", "the fundraiser has ended")
	ErrInvalidAmount               = ledger.NewProgramError(1007, "InvalidAmount", "the amount to raise is below the minimum")
)

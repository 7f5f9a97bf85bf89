package types

// Control names a user-triggerable action on the page.
type Control string

const (
	ControlConnect  Control = "connect"
	ControlTiers    Control = "tiers"
	ControlIncrease Control = "increase"
	ControlDecrease Control = "decrease"
	ControlBuy      Control = "buy"
	ControlBalance  Control = "balance"
	ControlWithdraw Control = "withdraw"
)

// PurchaseControls are disabled together while a purchase is in flight.
var PurchaseControls = []Control{ControlBuy, ControlTiers, ControlIncrease, ControlDecrease}

// AllControls lists every control in display order.
var AllControls = []Control{
	ControlConnect,
	ControlTiers,
	ControlIncrease,
	ControlDecrease,
	ControlBuy,
	ControlBalance,
	ControlWithdraw,
}

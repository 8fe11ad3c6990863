package sim

// Account tracks cash and cumulative costs for one simulation run.
// Fee rates are fractions of notional (a bps figure divided by 1e4).
type Account struct {
	StartingBalance float64 `json:"starting_balance"`
	Balance         float64 `json:"balance"`
	MakerFee        float64 `json:"maker_fee"`
	TakerFee        float64 `json:"taker_fee"`
	TotalFees       float64 `json:"total_fees"`
	TotalFunding    float64 `json:"total_funding"`
}

func NewAccount(startingBalance, makerFee, takerFee float64) *Account {
	return &Account{
		StartingBalance: startingBalance,
		Balance:         startingBalance,
		MakerFee:        makerFee,
		TakerFee:        takerFee,
	}
}

// FeeFor returns the fee charged on a fill of the given notional.
func (a *Account) FeeFor(price, qty float64, isMaker bool) float64 {
	rate := a.TakerFee
	if isMaker {
		rate = a.MakerFee
	}
	return price * qty * rate
}

// ApplyFee deducts a fee from the balance and accumulates it.
func (a *Account) ApplyFee(fee float64) {
	a.Balance -= fee
	a.TotalFees += fee
}

// ApplyFunding deducts a funding payment (negative means received).
func (a *Account) ApplyFunding(payment float64) {
	a.Balance -= payment
	a.TotalFunding += payment
}

// AddRealized credits realized pnl from a position change.
func (a *Account) AddRealized(pnl float64) {
	a.Balance += pnl
}

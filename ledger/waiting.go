package ledger

// ReleaseWaiting points the investor's queue slot at its oldest open
// investment, or takes the investor out of the queue when nothing is left
// to fund. An investor that is not waiting is left alone.
func ReleaseWaiting(tx Tx, investorID uint) error {
	owner, err := tx.ReadInvestor(investorID)
	if err != nil {
		return err
	}
	if !owner.IsWaiting {
		return nil
	}
	open, err := tx.OpenInvestments(investorID)
	if err != nil {
		return err
	}
	if len(open) == 0 {
		owner.StopWaiting()
	} else {
		next := open[0].ID
		owner.WaitingInvestmentID = &next
	}
	return tx.WriteInvestor(owner)
}

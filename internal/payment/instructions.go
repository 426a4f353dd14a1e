package payment

// Instructions is the static bank-transfer display data returned with every
// pending transaction. The engine never computes it; operators configure it.
type Instructions struct {
	Method        string `json:"method"`
	BankName      string `json:"bankName"`
	AccountNumber string `json:"accountNumber"`
	AccountHolder string `json:"accountHolder"`
	Note          string `json:"note"`
}

// ManualTransfer builds the instructions block for manual bank transfers.
func ManualTransfer(bankName, accountNumber, accountHolder string) Instructions {
	return Instructions{
		Method:        "manual_transfer",
		BankName:      bankName,
		AccountNumber: accountNumber,
		AccountHolder: accountHolder,
		Note:          "Transfer the exact total amount so your payment can be matched automatically.",
	}
}

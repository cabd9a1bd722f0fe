package models

// BankAccount is bound from the home page form on every POST.
// Nothing validates or stores it.
type BankAccount struct {
	AccountNumber string `form:"AccountNumber" json:"accountNumber"`
	Pin           string `form:"Pin" json:"-"`
}

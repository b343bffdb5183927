package models

import "time"

// OwnerKind identifies who an account belongs to.
type OwnerKind string

const (
	OwnerSystem   OwnerKind = "SYSTEM"
	OwnerCustomer OwnerKind = "CUSTOMER"
	OwnerInvestor OwnerKind = "INVESTOR"
)

func (k OwnerKind) Valid() bool {
	switch k {
	case OwnerSystem, OwnerCustomer, OwnerInvestor:
		return true
	}
	return false
}

// AccountType is the account code of an account.
type AccountType string

const (
	AccountAsset          AccountType = "ASSET"
	AccountLiability      AccountType = "LIABILITY"
	AccountExpense        AccountType = "EXPENSE"
	AccountRevenue        AccountType = "REVENUE"
	AccountCustomerWallet AccountType = "CUSTOMER_WALLET"
)

func (t AccountType) Valid() bool {
	switch t {
	case AccountAsset, AccountLiability, AccountExpense, AccountRevenue, AccountCustomerWallet:
		return true
	}
	return false
}

// MayGoNegative reports whether the balance of this account type may drop below zero.
func (t AccountType) MayGoNegative() bool {
	return t == AccountExpense || t == AccountLiability
}

// Account is a balance holder. Balance is the fold of its ledger entries;
// HeldBalance is the part of it reserved for pending obligations.
type Account struct {
	ID               string
	OwnerKind        OwnerKind
	Type             AccountType
	Name             string
	Balance          int64 // minor units
	HeldBalance      int64 // minor units, never negative
	TransactionLimit int64 // per-transaction cap in minor units, 0 means unlimited
	Active           bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Available is the balance not reserved by holds.
func (a Account) Available() int64 {
	return a.Balance - a.HeldBalance
}

// CustomerWalletID is the id of the wallet opened when a customer's KYC is approved.
func CustomerWalletID(customerID string) string {
	return "cust-" + customerID
}

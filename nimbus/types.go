package nimbus

import "encoding/json"

// Wire DTOs for the Nimbus Books list endpoints. Amounts stay json.Number at
// this boundary; they are validated into decimals when promoted onto the raw
// snapshot.

type Invoice struct {
	ID            string      `json:"id" validate:"required"`
	InvoiceNumber string      `json:"invoice_number"`
	CustomerId    string      `json:"customer_id"`
	IssueDate     string      `json:"issue_date"`
	DueDate       string      `json:"due_date"`
	TotalAmount   json.Number `json:"total_amount"`
	Status        string      `json:"status"`
	Deleted       bool        `json:"deleted"`
	LastModified  string      `json:"last_modified" validate:"required"`
}

type Payment struct {
	ID            string      `json:"id" validate:"required"`
	PaymentNumber string      `json:"payment_number"`
	CustomerId    string      `json:"customer_id"`
	InvoiceId     string      `json:"invoice_id"`
	PaymentDate   string      `json:"payment_date"`
	Amount        json.Number `json:"amount"`
	Deleted       bool        `json:"deleted"`
	LastModified  string      `json:"last_modified" validate:"required"`
}

type CreditNote struct {
	ID           string      `json:"id" validate:"required"`
	CreditNumber string      `json:"credit_number"`
	CustomerId   string      `json:"customer_id"`
	InvoiceId    string      `json:"invoice_id"`
	IssueDate    string      `json:"issue_date"`
	Amount       json.Number `json:"amount"`
	Deleted      bool        `json:"deleted"`
	LastModified string      `json:"last_modified" validate:"required"`
}

type Bill struct {
	ID           string      `json:"id" validate:"required"`
	BillNumber   string      `json:"bill_number"`
	SupplierId   string      `json:"supplier_id"`
	IssueDate    string      `json:"issue_date"`
	DueDate      string      `json:"due_date"`
	TotalAmount  json.Number `json:"total_amount"`
	Deleted      bool        `json:"deleted"`
	LastModified string      `json:"last_modified" validate:"required"`
}

type BankAccount struct {
	ID           string `json:"id" validate:"required"`
	Name         string `json:"name"`
	Deleted      bool   `json:"deleted"`
	LastModified string `json:"last_modified" validate:"required"`
}

type BankTransaction struct {
	ID              string      `json:"id" validate:"required"`
	AccountId       string      `json:"account_id"`
	TransactionDate string      `json:"transaction_date"`
	TransactionType string      `json:"transaction_type"`
	Amount          json.Number `json:"amount"`
	Deleted         bool        `json:"deleted"`
	LastModified    string      `json:"last_modified" validate:"required"`
}

type VendorPayment struct {
	ID            string      `json:"id" validate:"required"`
	PaymentNumber string      `json:"payment_number"`
	SupplierId    string      `json:"supplier_id"`
	BillId        string      `json:"bill_id"`
	PaymentDate   string      `json:"payment_date"`
	Amount        json.Number `json:"amount"`
	Status        string      `json:"status"`
	Deleted       bool        `json:"deleted"`
	LastModified  string      `json:"last_modified" validate:"required"`
}

// InvoicePush is the one outbound write: invoice creation on Nimbus.
type InvoicePush struct {
	InvoiceNumber string        `json:"invoice_number"`
	CustomerId    string        `json:"customer_id"`
	IssueDate     string        `json:"issue_date"`
	DueDate       string        `json:"due_date"`
	Lines         []InvoiceLine `json:"lines"`
	Notes         string        `json:"notes,omitempty"`
}

type InvoiceLine struct {
	Description string      `json:"description"`
	Quantity    json.Number `json:"quantity"`
	UnitPrice   json.Number `json:"unit_price"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

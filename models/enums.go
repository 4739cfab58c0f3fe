package models

import (
	"database/sql/driver"
	"errors"
	"fmt"
)

// InvoiceStatus is always derived from (total, received, due date) by
// DeriveInvoiceStatus; it is persisted only as a reconciler-owned cache.
type InvoiceStatus string

const (
	InvoiceStatusPending InvoiceStatus = "Pending"
	InvoiceStatusPartial InvoiceStatus = "Partial"
	InvoiceStatusPaid    InvoiceStatus = "Paid"
	InvoiceStatusOverdue InvoiceStatus = "Overdue"
)

func (s InvoiceStatus) Value() (driver.Value, error) {
	return string(s), nil
}

func (s *InvoiceStatus) Scan(value interface{}) error {
	str, err := scanEnumString(value)
	if err != nil {
		return err
	}
	switch InvoiceStatus(str) {
	case InvoiceStatusPending, InvoiceStatusPartial, InvoiceStatusPaid, InvoiceStatusOverdue:
		*s = InvoiceStatus(str)
	default:
		return fmt.Errorf("invalid invoice status %q", str)
	}
	return nil
}

type PaymentModeType string

const (
	PaymentModeCash         PaymentModeType = "Cash"
	PaymentModeBankTransfer PaymentModeType = "BankTransfer"
	PaymentModeCard         PaymentModeType = "Card"
	PaymentModeCheque       PaymentModeType = "Cheque"
	PaymentModeUPI          PaymentModeType = "UPI"
	PaymentModeOther        PaymentModeType = "Other"
)

func (m PaymentModeType) Value() (driver.Value, error) {
	return string(m), nil
}

func (m *PaymentModeType) Scan(value interface{}) error {
	str, err := scanEnumString(value)
	if err != nil {
		return err
	}
	switch PaymentModeType(str) {
	case PaymentModeCash, PaymentModeBankTransfer, PaymentModeCard, PaymentModeCheque, PaymentModeUPI, PaymentModeOther:
		*m = PaymentModeType(str)
	default:
		return fmt.Errorf("invalid payment mode %q", str)
	}
	return nil
}

func scanEnumString(value interface{}) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	default:
		return "", errors.New("enum value must be a string")
	}
}

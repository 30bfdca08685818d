package domain

import (
	"time"

	"github.com/google/uuid"
)

// BeneficiaryType distinguishes saved payees linked to a platform user from
// purely external ones. Only INTERNAL beneficiaries with a linked user are
// payable through the ledger; EXTERNAL records exist for the contact list.
type BeneficiaryType string

const (
	BeneficiaryTypeInternal BeneficiaryType = "INTERNAL"
	BeneficiaryTypeExternal BeneficiaryType = "EXTERNAL"
)

// Beneficiary is a saved payee owned by one user. The beneficiary subsystem
// manages these records; the ledger only reads them.
type Beneficiary struct {
	ID            uuid.UUID       `json:"id"`
	UserID        uuid.UUID       `json:"user_id"` // owner
	Name          string          `json:"name"`
	AccountNumber string          `json:"account_number"`
	LinkedUserID  *uuid.UUID      `json:"linked_user_id,omitempty"`
	Type          BeneficiaryType `json:"type"`
	CreatedAt     time.Time       `json:"created_at"`
}

package model

import "time"

// Plan は会員プランのカタログエントリを表す。イミュータブルな参照データ。
type Plan struct {
	Type     string   `json:"type" yaml:"type"`
	Name     string   `json:"name" yaml:"name"`
	Amount   int      `json:"amount" yaml:"amount"`
	Features []string `json:"features" yaml:"features"`
}

// Equal はプランの種別・名称・金額・特典一覧が一致するかを返す。
func (p Plan) Equal(other Plan) bool {
	if p.Type != other.Type || p.Name != other.Name || p.Amount != other.Amount {
		return false
	}
	if len(p.Features) != len(other.Features) {
		return false
	}
	for i := range p.Features {
		if p.Features[i] != other.Features[i] {
			return false
		}
	}
	return true
}

// ApplicationStatus は会員申込の審査状態を表す。
// このサービスはpendingでのみ作成し、状態を変更するのは外部の審査者だけである。
type ApplicationStatus string

const (
	// ApplicationStatusPending は審査待ち。
	ApplicationStatusPending ApplicationStatus = "pending"
	// ApplicationStatusApproved は承認済み。
	ApplicationStatusApproved ApplicationStatus = "approved"
	// ApplicationStatusRejected は却下。
	ApplicationStatusRejected ApplicationStatus = "rejected"
)

// Valid は既知の状態かどうかを返す。
func (s ApplicationStatus) Valid() bool {
	switch s {
	case ApplicationStatusPending, ApplicationStatusApproved, ApplicationStatusRejected:
		return true
	default:
		return false
	}
}

// Application は1件の会員申込を表す。作成後はこのサービスから見て読み取り専用。
type Application struct {
	ID               string            `json:"id"`
	UserID           string            `json:"user_id"`
	MembershipType   string            `json:"membership_type"`
	Amount           int               `json:"amount"`
	PaymentReference string            `json:"payment_reference"`
	Status           ApplicationStatus `json:"status"`
	AdminNotes       string            `json:"admin_notes,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
}

// NewPendingApplication は選択プランと支払参照番号から審査待ちの申込を組み立てる。
func NewPendingApplication(userID string, plan Plan, paymentReference string) *Application {
	return &Application{
		UserID:           userID,
		MembershipType:   plan.Type,
		Amount:           plan.Amount,
		PaymentReference: paymentReference,
		Status:           ApplicationStatusPending,
	}
}

package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type User struct {
	ID               string    `db:"id" json:"id"`
	Email            string    `db:"email" json:"email"`
	Name             string    `db:"name" json:"name"`
	StripeCustomerID *string   `db:"stripe_customer_id" json:"-"`
	CreatedAt        time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt        time.Time `db:"updated_at" json:"updatedAt"`
}

func (u *User) HasCustomer() bool {
	return u.StripeCustomerID != nil && *u.StripeCustomerID != ""
}

// UserStats aggregates a user's pledge history.
type UserStats struct {
	TotalGoalsCreated   int             `json:"totalGoalsCreated"`
	TotalGoalsCompleted int             `json:"totalGoalsCompleted"`
	TotalMoneyPledged   decimal.Decimal `json:"totalMoneyPledged"`
	TotalMoneySaved     decimal.Decimal `json:"totalMoneySaved"`
	TotalMoneyLost      decimal.Decimal `json:"totalMoneyLost"`
}

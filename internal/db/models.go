package db

import (
	"time"
)

type RequestMode string

const (
	ModeNormal   RequestMode = "normal"
	ModeEnsemble RequestMode = "ensemble"
)

type User struct {
	ID                 int64      `json:"id" db:"user_id"`
	Username           string     `json:"username" db:"username"`
	Tier               int        `json:"tier" db:"tier"`
	SubscriptionEnd    *time.Time `json:"subscription_end,omitempty" db:"subscription_end"`
	Blocked            bool       `json:"blocked" db:"blocked"`
	Verified           bool       `json:"verified" db:"verified"`
	BonusGranted       bool       `json:"bonus_granted" db:"bonus_granted"`
	LastUsedModel      *string    `json:"last_used_model,omitempty" db:"last_used_model"`
	LastUsedImageModel *string    `json:"last_used_image_model,omitempty" db:"last_used_image_model"`
	Instruction        *string    `json:"instruction,omitempty" db:"instruction"`
	Temperature        *float64   `json:"temperature,omitempty" db:"temperature"`
	CreatedAt          time.Time  `json:"created_at" db:"created_at"`
}

type Request struct {
	ID         string      `json:"id" db:"id"`
	UserID     int64       `json:"user_id" db:"user_id"`
	Model      string      `json:"model" db:"model"`
	RequestDay string      `json:"request_day" db:"request_day"`
	Mode       RequestMode `json:"mode" db:"mode"`
	CreatedAt  time.Time   `json:"created_at" db:"created_at"`
}

type SystemState struct {
	Key       string    `json:"key" db:"key"`
	Value     string    `json:"value" db:"value"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type TierStat struct {
	Tier  int `json:"tier" db:"tier"`
	Count int `json:"count" db:"count"`
}

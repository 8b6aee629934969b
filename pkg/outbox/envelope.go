package outbox

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RewardEvent is the body a sink receives for one fulfilled transaction.
type RewardEvent struct {
	AccountID     uuid.UUID       `json:"accountId"`
	TransactionID uuid.UUID       `json:"transactionId"`
	Message       string          `json:"message"`
	Amount        decimal.Decimal `json:"amount"`
}

// PayloadEnvelope is the stable structure published for each outbox row.
type PayloadEnvelope struct {
	Version    int         `json:"version"`
	EventID    string      `json:"eventId"`
	OccurredAt time.Time   `json:"occurredAt"`
	Data       RewardEvent `json:"data"`
}

const envelopeVersion = 1

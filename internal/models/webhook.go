package models

import (
	"strings"

	"github.com/shopspring/decimal"
)

// EventKind is the closed set of provider callbacks the gateway understands.
type EventKind int

const (
	EventUnrecognized EventKind = iota
	EventWalletLoad
	EventPayout
)

var eventKindNames = map[string]EventKind{
	"wallet.load":        EventWalletLoad,
	"transaction.payout": EventPayout,
}

func (k EventKind) String() string {
	for name, kind := range eventKindNames {
		if kind == k {
			return name
		}
	}
	return "unrecognized"
}

// TransactionKind returns the journal kind an event applies to.
func (k EventKind) TransactionKind() (TransactionKind, bool) {
	switch k {
	case EventWalletLoad:
		return KindDeposit, true
	case EventPayout:
		return KindWithdraw, true
	}
	return "", false
}

// ProviderStatus is the outcome a provider reports for a transaction.
type ProviderStatus int

const (
	ProviderStatusUnknown ProviderStatus = iota
	ProviderStatusSuccessful
	ProviderStatusFailed
	ProviderStatusReversed
	ProviderStatusPending
)

var providerStatusNames = map[string]ProviderStatus{
	"successful": ProviderStatusSuccessful,
	"success":    ProviderStatusSuccessful,
	"completed":  ProviderStatusSuccessful,
	"failed":     ProviderStatusFailed,
	"failure":    ProviderStatusFailed,
	"declined":   ProviderStatusFailed,
	"rejected":   ProviderStatusFailed,
	"cancelled":  ProviderStatusFailed,
	"reversed":   ProviderStatusReversed,
	"refunded":   ProviderStatusReversed,
	"pending":    ProviderStatusPending,
	"processing": ProviderStatusPending,
}

// ParseProviderStatus maps a provider status string onto the closed set.
func ParseProviderStatus(s string) ProviderStatus {
	if st, ok := providerStatusNames[strings.ToLower(strings.TrimSpace(s))]; ok {
		return st
	}
	return ProviderStatusUnknown
}

func (s ProviderStatus) String() string {
	switch s {
	case ProviderStatusSuccessful:
		return "successful"
	case ProviderStatusFailed:
		return "failed"
	case ProviderStatusReversed:
		return "reversed"
	case ProviderStatusPending:
		return "pending"
	}
	return "unknown"
}

// WebhookPayload is the JSON body posted by the payment provider.
type WebhookPayload struct {
	EventType      string              `json:"eventType" validate:"required,max=100"`
	TransactionRef string              `json:"transactionRef" validate:"required,max=128"`
	TransactionID  string              `json:"transactionId,omitempty" validate:"max=128"`
	Status         string              `json:"status,omitempty"`
	Amount         decimal.NullDecimal `json:"amount"`
	Currency       string              `json:"currency,omitempty" validate:"omitempty,len=3,alpha"`
}

// Classify resolves the event kind and status. The provider sends either
// "wallet.load" with a separate status field or the suffixed form
// "wallet.load.successful"; the suffix is only used when status is absent.
func (p *WebhookPayload) Classify() (EventKind, ProviderStatus) {
	eventType := strings.ToLower(strings.TrimSpace(p.EventType))
	kind, ok := eventKindNames[eventType]
	suffix := ""
	if !ok {
		for name, k := range eventKindNames {
			if rest, found := strings.CutPrefix(eventType, name+"."); found && !strings.Contains(rest, ".") {
				kind, ok, suffix = k, true, rest
				break
			}
		}
	}
	if !ok {
		kind = EventUnrecognized
	}

	status := p.Status
	if strings.TrimSpace(status) == "" {
		status = suffix
	}
	return kind, ParseProviderStatus(status)
}

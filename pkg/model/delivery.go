package model

import (
	"strings"
)

// DeliveryStatus represents the provider status of an outbound notification
type DeliveryStatus string

const (
	DeliveryStatusQueued        DeliveryStatus = "queued"
	DeliveryStatusAccepted      DeliveryStatus = "accepted"
	DeliveryStatusSending       DeliveryStatus = "sending"
	DeliveryStatusSent          DeliveryStatus = "sent"
	DeliveryStatusDelivered     DeliveryStatus = "delivered"
	DeliveryStatusFailed        DeliveryStatus = "failed"
	DeliveryStatusUndelivered   DeliveryStatus = "undelivered"
	DeliveryStatusCanceled      DeliveryStatus = "canceled"
	DeliveryStatusMock          DeliveryStatus = "mock-delivered"
	DeliveryStatusSMSSent       DeliveryStatus = "sms-sent"
	DeliveryStatusNormalMessage DeliveryStatus = "normal-message"
)

// Normalize lower-cases and trims a provider supplied status
func (s DeliveryStatus) Normalize() DeliveryStatus {
	return DeliveryStatus(strings.ToLower(strings.TrimSpace(string(s))))
}

// IsTerminal returns true if no further polling is meaningful. Anything
// outside the terminal set, including unknown values, counts as pending.
func (s DeliveryStatus) IsTerminal() bool {
	switch s.Normalize() {
	case DeliveryStatusDelivered, DeliveryStatusMock, DeliveryStatusSMSSent, DeliveryStatusNormalMessage,
		DeliveryStatusFailed, DeliveryStatusUndelivered, DeliveryStatusCanceled:
		return true
	}
	return false
}

// IsFailure returns true for terminal statuses that mean the message was lost
func (s DeliveryStatus) IsFailure() bool {
	switch s.Normalize() {
	case DeliveryStatusFailed, DeliveryStatusUndelivered, DeliveryStatusCanceled:
		return true
	}
	return false
}

// DeliveryReceipt is what the provider returns for a send or a status query
type DeliveryReceipt struct {
	ID                int64          `json:"id"`
	PhoneNumber       string         `json:"phone_number"`
	Status            DeliveryStatus `json:"delivery_status"`
	ProviderReference string         `json:"provider_reference,omitempty"`
}

// DeliveryRequest tracks one summary send through polling
type DeliveryRequest struct {
	ID                int64          `json:"id"`
	Recipient         string         `json:"recipient"`
	Signature         string         `json:"signature"`
	Status            DeliveryStatus `json:"status"`
	ProviderReference string         `json:"provider_reference,omitempty"`
	Attempts          int            `json:"attempts"`
	Skipped           bool           `json:"skipped"`
	Unknown           bool           `json:"unknown"`
}

// Apply records the latest receipt
func (d *DeliveryRequest) Apply(receipt DeliveryReceipt) {
	if receipt.ID != 0 {
		d.ID = receipt.ID
	}
	d.Status = receipt.Status.Normalize()
	d.ProviderReference = receipt.ProviderReference
}

// IsCompleted returns true if the request reached a terminal status
func (d *DeliveryRequest) IsCompleted() bool {
	return d.Status.IsTerminal()
}

// Fixed set of provider failure codes
const (
	ProviderCodeNotConfigured = "whatsapp-provider-not-configured"
	ProviderCodeInvalidPhone  = "invalid-phone"
	ProviderCodeRequestFailed = "twilio-request-failed"
	providerCodeHTTPPrefix    = "twilio-http-"
)

// User facing failure reasons
const (
	ReasonDeliveryFailed        = "delivery failed"
	ReasonProviderNotConfigured = "provider not configured"
	ReasonInvalidRecipient      = "invalid recipient"
	ReasonProviderCallFailed    = "provider call failed"
	ReasonStatusUnknown         = "status unknown"
)

// FailureReason maps a provider reference code onto a user facing reason.
// Unrecognized codes pass through verbatim.
func FailureReason(code string) string {
	code = strings.TrimSpace(code)
	switch {
	case code == "":
		return ReasonDeliveryFailed
	case code == ProviderCodeNotConfigured:
		return ReasonProviderNotConfigured
	case code == ProviderCodeInvalidPhone:
		return ReasonInvalidRecipient
	case code == ProviderCodeRequestFailed, strings.HasPrefix(code, providerCodeHTTPPrefix):
		return ReasonProviderCallFailed
	}
	return code
}

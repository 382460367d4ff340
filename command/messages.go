package command

import (
	"strings"

	"github.com/nestorgt/go-settlement/core"
)

const (
	TypeSubmitTransfer = "settlement.command.transfer.submit"
	TypeSubmitExchange = "settlement.command.exchange.submit"
)

type SubmitTransferMessage struct {
	ProviderID string
	Request    core.TransferRequest
}

func (SubmitTransferMessage) Type() string { return TypeSubmitTransfer }

func (m SubmitTransferMessage) Validate() error {
	if strings.TrimSpace(m.ProviderID) == "" {
		return commandValidationError("provider_id", "provider id is required")
	}
	if strings.TrimSpace(m.Request.SourceRef) == "" {
		return commandValidationError("source_ref", "source account is required")
	}
	if strings.TrimSpace(m.Request.TargetRef) == "" {
		return commandValidationError("target_ref", "target account is required")
	}
	if !m.Request.Amount.IsPositive() {
		return commandValidationError("amount", "amount must be positive")
	}
	if strings.TrimSpace(m.Request.Currency) == "" {
		return commandValidationError("currency", "currency is required")
	}
	return nil
}

type SubmitExchangeMessage struct {
	ProviderID string
	Request    core.ExchangeRequest
}

func (SubmitExchangeMessage) Type() string { return TypeSubmitExchange }

func (m SubmitExchangeMessage) Validate() error {
	if strings.TrimSpace(m.ProviderID) == "" {
		return commandValidationError("provider_id", "provider id is required")
	}
	if !m.Request.Amount.IsPositive() {
		return commandValidationError("amount", "amount must be positive")
	}
	source := strings.TrimSpace(m.Request.SourceCurrency)
	target := strings.TrimSpace(m.Request.TargetCurrency)
	if source == "" || target == "" {
		return commandValidationError("currency", "source and target currencies are required")
	}
	if strings.EqualFold(source, target) {
		return commandValidationError("target_currency", "target currency must differ from source currency")
	}
	return nil
}

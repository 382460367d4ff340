package transfer

import (
	"strings"

	"github.com/nestorgt/go-settlement/core"
)

func normalizeTransfer(req core.TransferRequest) core.TransferRequest {
	req.RequestID = strings.TrimSpace(req.RequestID)
	req.SourceRef = strings.TrimSpace(req.SourceRef)
	req.TargetRef = strings.TrimSpace(req.TargetRef)
	req.Currency = strings.ToUpper(strings.TrimSpace(req.Currency))
	req.Reference = strings.TrimSpace(req.Reference)
	return req
}

func normalizeExchange(req core.ExchangeRequest) core.ExchangeRequest {
	req.RequestID = strings.TrimSpace(req.RequestID)
	req.SourceRef = strings.TrimSpace(req.SourceRef)
	req.TargetRef = strings.TrimSpace(req.TargetRef)
	req.SourceCurrency = strings.ToUpper(strings.TrimSpace(req.SourceCurrency))
	req.TargetCurrency = strings.ToUpper(strings.TrimSpace(req.TargetCurrency))
	req.Reference = strings.TrimSpace(req.Reference)
	return req
}

func validateTransfer(providerID string, req core.TransferRequest) error {
	switch {
	case req.SourceRef == "":
		return core.NewPermanentRequestError(providerID, "source_ref", "source account is required")
	case req.TargetRef == "":
		return core.NewPermanentRequestError(providerID, "target_ref", "target account is required")
	case !req.Amount.IsPositive():
		return core.NewPermanentRequestError(providerID, "amount", "amount must be greater than zero")
	case req.Currency == "":
		return core.NewPermanentRequestError(providerID, "currency", "currency is required")
	}
	return nil
}

func validateExchange(providerID string, req core.ExchangeRequest) error {
	switch {
	case req.SourceRef == "":
		return core.NewPermanentRequestError(providerID, "source_ref", "source account is required")
	case req.TargetRef == "":
		return core.NewPermanentRequestError(providerID, "target_ref", "target account is required")
	case !req.Amount.IsPositive():
		return core.NewPermanentRequestError(providerID, "amount", "amount must be greater than zero")
	case req.SourceCurrency == "" || req.TargetCurrency == "":
		return core.NewPermanentRequestError(providerID, "currency", "source and target currencies are required")
	case req.SourceCurrency == req.TargetCurrency:
		return core.NewPermanentRequestError(providerID, "target_currency", "exchange requires two different currencies")
	}
	return nil
}

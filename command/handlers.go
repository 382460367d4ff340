package command

import (
	"context"

	gocmd "github.com/goliatone/go-command"
	"github.com/nestorgt/go-settlement/core"
)

// MoneyMovementService is the engine surface the money commands drive.
type MoneyMovementService interface {
	SubmitTransfer(ctx context.Context, providerID string, req core.TransferRequest) (core.TransferResult, error)
	SubmitExchange(ctx context.Context, providerID string, req core.ExchangeRequest) (core.TransferResult, error)
}

type SubmitTransferCommand struct {
	service MoneyMovementService
}

func NewSubmitTransferCommand(service MoneyMovementService) *SubmitTransferCommand {
	return &SubmitTransferCommand{service: service}
}

func (c *SubmitTransferCommand) Execute(ctx context.Context, msg SubmitTransferMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: transfer service is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	out, err := c.service.SubmitTransfer(ctx, msg.ProviderID, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type SubmitExchangeCommand struct {
	service MoneyMovementService
}

func NewSubmitExchangeCommand(service MoneyMovementService) *SubmitExchangeCommand {
	return &SubmitExchangeCommand{service: service}
}

func (c *SubmitExchangeCommand) Execute(ctx context.Context, msg SubmitExchangeMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: exchange service is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	out, err := c.service.SubmitExchange(ctx, msg.ProviderID, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}

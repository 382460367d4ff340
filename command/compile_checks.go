package command

import gocmd "github.com/goliatone/go-command"

var (
	_ gocmd.Commander[SubmitTransferMessage] = (*SubmitTransferCommand)(nil)
	_ gocmd.Commander[SubmitExchangeMessage] = (*SubmitExchangeCommand)(nil)
)

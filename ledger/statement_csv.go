package ledger

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/nestorgt/go-settlement/core"
	"github.com/shopspring/decimal"
)

var statementDateLayouts = []string{
	"01-02-2006",
	"01-02-2006 15:04:05",
	"2006-01-02",
	"2006-01-02 15:04:05",
	time.RFC3339,
}

var statementKinds = map[string]core.TransactionKind{
	"CARD_PAYMENT": core.TransactionKindCard,
	"CARD":         core.TransactionKindCard,
	"TRANSFER":     core.TransactionKindTransfer,
	"PAYOUT":       core.TransactionKindOutgoingPayment,
	"DEPOSIT":      core.TransactionKindIncomingPayment,
	"CONVERSION":   core.TransactionKindExchange,
	"EXCHANGE":     core.TransactionKindExchange,
	"FEE":          core.TransactionKindFee,
}

// ParseStatementCSV reads a provider statement export with the columns ID,
// Type, State, Amount, Currency, Description and Date completed (UTC).
// Header names are matched case-insensitively.
func ParseStatementCSV(reader io.Reader, providerID string) ([]core.Transaction, error) {
	csvReader := csv.NewReader(bufio.NewReader(reader))
	csvReader.FieldsPerRecord = -1
	csvReader.TrimLeadingSpace = true

	headers, err := csvReader.Read()
	if err != nil {
		return nil, core.WrapProviderError(err, providerID, core.ErrorPermanentRequest, "read statement headers")
	}
	columns, err := statementColumns(headers)
	if err != nil {
		return nil, core.NewPermanentRequestError(providerID, "csv", err.Error())
	}

	var (
		transactions []core.Transaction
		rowErrs      []error
	)
	for row := 2; ; row++ {
		record, err := csvReader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			rowErrs = append(rowErrs, fmt.Errorf("row %d: %w", row, err))
			continue
		}
		tx, err := parseStatementRow(record, columns, providerID)
		if err != nil {
			rowErrs = append(rowErrs, fmt.Errorf("row %d: %w", row, err))
			continue
		}
		transactions = append(transactions, tx)
	}
	if len(rowErrs) > 0 {
		return transactions, core.WrapProviderError(errors.Join(rowErrs...), providerID, core.ErrorPermanentRequest,
			fmt.Sprintf("statement has %d invalid rows", len(rowErrs)))
	}
	return transactions, nil
}

func statementColumns(headers []string) (map[string]int, error) {
	columns := make(map[string]int, len(headers))
	for i, header := range headers {
		columns[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(header, "\ufeff")))] = i
	}
	for _, required := range []string{"id", "amount", "date completed (utc)"} {
		if _, ok := columns[required]; !ok {
			return nil, fmt.Errorf("required column %q not found", required)
		}
	}
	return columns, nil
}

func parseStatementRow(record []string, columns map[string]int, providerID string) (core.Transaction, error) {
	field := func(name string) string {
		index, ok := columns[name]
		if !ok || index >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[index])
	}

	id := field("id")
	if id == "" {
		return core.Transaction{}, fmt.Errorf("id is empty")
	}
	amount, err := decimal.NewFromString(strings.ReplaceAll(field("amount"), ",", ""))
	if err != nil {
		return core.Transaction{}, fmt.Errorf("invalid amount %q: %w", field("amount"), err)
	}
	timestamp, err := parseStatementDate(field("date completed (utc)"))
	if err != nil {
		return core.Transaction{}, err
	}

	rawType := strings.ToUpper(field("type"))
	kind, ok := statementKinds[rawType]
	if !ok {
		kind = core.TransactionKindOther
	}
	if kind == core.TransactionKindTransfer && amount.IsNegative() {
		kind = core.TransactionKindOutgoingPayment
	}
	description := field("description")
	return core.Transaction{
		ID:         id,
		ProviderID: providerID,
		Amount:     amount,
		Currency:   strings.ToUpper(field("currency")),
		Timestamp:  timestamp,
		Kind:       kind,
		State:      strings.ToLower(field("state")),
		CardFlag:   kind == core.TransactionKindCard,
		Descriptors: core.Descriptors{
			Description: description,
			BankNote:    description,
		},
	}, nil
}

func parseStatementDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range statementDateLayouts {
		if parsed, err := time.Parse(layout, raw); err == nil {
			return parsed.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid completion date %q", raw)
}

package ledger

import (
	"strings"

	"github.com/nestorgt/go-settlement/core"
)

// Markers are the case-insensitive free-text fragments the rules look for.
type Markers struct {
	WatchedNames     []string
	CardMarkers      []string
	ACHMarkers       []string
	InternalMarkers  []string
	SendMoneyMarkers []string
}

func MarkersFromConfig(cfg core.ClassifierConfig) Markers {
	return Markers{
		WatchedNames:     lowerAll(cfg.WatchedNames),
		CardMarkers:      lowerAll(cfg.CardMarkers),
		ACHMarkers:       lowerAll(cfg.ACHMarkers),
		InternalMarkers:  lowerAll(cfg.InternalMarkers),
		SendMoneyMarkers: lowerAll(cfg.SendMoneyMarkers),
	}
}

// Rule maps a transaction to a classification when its predicate holds.
type Rule struct {
	Name  string
	Match func(tx core.Transaction) (core.Classification, bool)
}

// DefaultRules returns the rules in priority order. Transactions matching
// none of them fall into the uncategorized bucket.
func DefaultRules(markers Markers) []Rule {
	return []Rule{
		CardExpenseRule(markers),
		InternalTransferRule(markers),
		ExternalTransferRule(markers),
	}
}

func CardExpenseRule(markers Markers) Rule {
	return Rule{
		Name: string(core.ClassificationCardExpense),
		Match: func(tx core.Transaction) (core.Classification, bool) {
			matched := tx.Kind == core.TransactionKindCard || tx.CardFlag
			if !matched && !internalKind(tx.Kind) {
				text := descriptorText(tx)
				matched = containsAny(text, markers.CardMarkers) && !containsAny(text, markers.ACHMarkers)
			}
			return core.Classification{Kind: core.ClassificationCardExpense}, matched
		},
	}
}

func InternalTransferRule(markers Markers) Rule {
	return Rule{
		Name: string(core.ClassificationInternalTransfer),
		Match: func(tx core.Transaction) (core.Classification, bool) {
			matched := internalKind(tx.Kind) || containsAny(descriptorText(tx), markers.InternalMarkers)
			return core.Classification{Kind: core.ClassificationInternalTransfer}, matched
		},
	}
}

// ExternalTransferRule matches outgoing payments whose bank note carries a
// send money marker, tagged by the first watched name found in the
// counterparty fields.
func ExternalTransferRule(markers Markers) Rule {
	return Rule{
		Name: "external_transfer",
		Match: func(tx core.Transaction) (core.Classification, bool) {
			outgoing := tx.Kind == core.TransactionKindOutgoingPayment ||
				(tx.Kind == core.TransactionKindTransfer && tx.Amount.IsNegative())
			if !outgoing || !containsAny(descriptorText(tx), markers.SendMoneyMarkers) {
				return core.Classification{}, false
			}
			counterparty := strings.ToLower(strings.Join([]string{
				tx.Descriptors.Counterparty,
				tx.Descriptors.Description,
				tx.Descriptors.Reference,
				tx.Descriptors.BankNote,
			}, " "))
			for _, name := range markers.WatchedNames {
				if name != "" && strings.Contains(counterparty, name) {
					return core.Classification{Kind: core.ClassificationExternalTransferNamed, Tag: name}, true
				}
			}
			return core.Classification{Kind: core.ClassificationExternalTransferOther}, true
		},
	}
}

// Classify applies rules in order. The first match wins; ambiguous is set
// when more than one rule matched.
func Classify(rules []Rule, tx core.Transaction) (classification core.Classification, ambiguous bool) {
	matches := 0
	for _, rule := range rules {
		if rule.Match == nil {
			continue
		}
		candidate, ok := rule.Match(tx)
		if !ok {
			continue
		}
		matches++
		if matches == 1 {
			classification = candidate
		}
	}
	if matches == 0 {
		return core.Classification{Kind: core.ClassificationUncategorized}, false
	}
	return classification, matches > 1
}

// internalKind reports provider kinds that move money between own accounts.
// Descriptor markers never override them.
func internalKind(kind core.TransactionKind) bool {
	return kind == core.TransactionKindInternal || kind == core.TransactionKindExchange
}

func descriptorText(tx core.Transaction) string {
	return strings.ToLower(tx.Descriptors.Joined())
}

func containsAny(text string, fragments []string) bool {
	for _, fragment := range fragments {
		if fragment != "" && strings.Contains(text, fragment) {
			return true
		}
	}
	return false
}

func lowerAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		if trimmed := strings.ToLower(strings.TrimSpace(value)); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

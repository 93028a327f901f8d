// Package ofx imports bank and credit card statements from OFX/QFX files.
package ofx

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"

	"github.com/aclindsa/ofxgo"
	"github.com/shopspring/decimal"

	"github.com/Veraticus/invoice-match/internal/model"
)

// unknownCurrency is what ofxgo reports when a statement has no CURDEF.
const unknownCurrency = "XXX"

var (
	// Some banks emit mixed-case severities, which ofxgo rejects.
	severityRe = regexp.MustCompile(`(?i)<SEVERITY>(info|warn|error)\b`)
	// SGML exports occasionally drop the closing bracket of a bare tag line.
	unclosedTagRe = regexp.MustCompile(`(?m)^(\s*<[A-Z][A-Z0-9._]*[A-Z0-9])$`)
	// Card processors prefix descriptions with the payment channel.
	channelPrefixRe = regexp.MustCompile(`(?i)^(POS PURCHASE|PURCHASE AUTHORIZED ON|DEBIT CARD PURCHASE|DEBIT PURCHASE|ACH DEBIT|CHECK CARD|VISA PURCHASE|MC PURCHASE)\s+`)
	leadingDateRe   = regexp.MustCompile(`^\d{2}/\d{2}\s+`)
)

// genericNames carry no counterparty information; MEMO is used instead.
var genericNames = map[string]bool{
	"DEBIT":           true,
	"CREDIT":          true,
	"PURCHASE":        true,
	"PAYMENT":         true,
	"POS TRANSACTION": true,
	"CARD PURCHASE":   true,
}

// Parser turns OFX/QFX statements into ledger transactions for one entity.
type Parser struct {
	entity          string
	defaultCurrency string
}

// NewParser creates a parser that assigns every imported transaction to
// entity. defaultCurrency is used when the statement does not declare one.
func NewParser(entity, defaultCurrency string) *Parser {
	return &Parser{entity: entity, defaultCurrency: strings.ToUpper(defaultCurrency)}
}

type statement struct {
	list      *ofxgo.TransactionList
	accountID string
	currency  string
}

// ParseFile parses an OFX/QFX file and returns its posted transactions.
// Amounts keep their sign: debits are negative. Zero-amount entries are
// dropped since they cannot settle an invoice.
func (p *Parser) ParseFile(ctx context.Context, reader io.Reader) ([]model.Transaction, error) {
	content, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read OFX file: %w", err)
	}

	resp, err := ofxgo.ParseResponse(strings.NewReader(clean(string(content))))
	if err != nil {
		return nil, fmt.Errorf("failed to parse OFX file: %w", err)
	}

	stmts := statements(resp)
	var transactions []model.Transaction
	skipped := 0

	for _, stmt := range stmts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if stmt.list == nil {
			continue
		}
		currency := stmt.currency
		if currency == "" || currency == unknownCurrency {
			currency = p.defaultCurrency
		}
		for _, tx := range stmt.list.Transactions {
			txn := p.convert(tx, stmt.accountID, currency)
			if txn.Amount.IsZero() {
				skipped++
				continue
			}
			transactions = append(transactions, txn)
		}
	}

	slog.Info("Parsed OFX file",
		"transactions", len(transactions),
		"statements", len(stmts),
		"skipped_zero_amount", skipped,
		"entity", p.entity)

	return transactions, nil
}

func clean(content string) string {
	content = strings.TrimLeft(content, " \t\r\n")
	content = severityRe.ReplaceAllStringFunc(content, strings.ToUpper)
	return unclosedTagRe.ReplaceAllString(content, "$1>")
}

// statements flattens bank and credit card statements.
func statements(resp *ofxgo.Response) []statement {
	var out []statement
	for _, msg := range resp.Bank {
		if stmt, ok := msg.(*ofxgo.StatementResponse); ok {
			out = append(out, statement{
				list:      stmt.BankTranList,
				accountID: string(stmt.BankAcctFrom.AcctID),
				currency:  stmt.CurDef.String(),
			})
		}
	}
	for _, msg := range resp.CreditCard {
		if stmt, ok := msg.(*ofxgo.CCStatementResponse); ok {
			out = append(out, statement{
				list:      stmt.BankTranList,
				accountID: string(stmt.CCAcctFrom.AcctID),
				currency:  stmt.CurDef.String(),
			})
		}
	}
	return out
}

func (p *Parser) convert(tx ofxgo.Transaction, accountID, currency string) model.Transaction {
	if tx.Currency != nil && tx.Currency.CurSym.String() != unknownCurrency {
		currency = tx.Currency.CurSym.String()
	}

	desc := description(tx)
	if check := string(tx.CheckNum); check != "" && !strings.Contains(desc, check) {
		desc = strings.TrimSpace(desc + " CHECK " + check)
	}

	return model.Transaction{
		ID:                 string(tx.FiTID),
		Date:               tx.DtPosted.Time.UTC(),
		Amount:             decimal.RequireFromString(tx.TrnAmt.FloatString(2)),
		Currency:           currency,
		Description:        desc,
		Entity:             p.entity,
		AccountID:          accountID,
		AccountingCategory: model.UncategorizedCategory,
	}
}

// description picks the most useful counterparty text: PAYEE, then NAME, then
// MEMO when NAME is generic. Channel prefixes and leading MM/DD are removed.
func description(tx ofxgo.Transaction) string {
	if tx.Payee != nil && tx.Payee.Name != "" {
		return strings.TrimSpace(string(tx.Payee.Name))
	}

	name := strings.TrimSpace(string(tx.Name))
	if tx.Memo != "" && genericNames[strings.ToUpper(name)] {
		name = strings.TrimSpace(string(tx.Memo))
	}

	name = channelPrefixRe.ReplaceAllString(name, "")
	return leadingDateRe.ReplaceAllString(name, "")
}

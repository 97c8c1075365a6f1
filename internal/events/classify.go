package events

import "strings"

var typesByEventType = map[string]Type{
	"PAYMENT_INBOUND":                   TypeDeposit,
	"PAYMENT_INBOUND_SEPA_DIRECT_DEBIT": TypeDeposit,
	"PAYMENT_INBOUND_GOOGLE_PAY":        TypeDeposit,
	"PAYMENT_INBOUND_APPLE_PAY":         TypeDeposit,
	"PAYMENT_INBOUND_CREDIT_CARD":       TypeDeposit,
	"INCOMING_TRANSFER":                 TypeDeposit,
	"INCOMING_TRANSFER_DELEGATION":      TypeDeposit,
	"card_refund":                       TypeDeposit,

	"PAYMENT_OUTBOUND":               TypeRemoval,
	"OUTGOING_TRANSFER":              TypeRemoval,
	"OUTGOING_TRANSFER_DELEGATION":   TypeRemoval,
	"card_successful_transaction":    TypeRemoval,
	"card_successful_atm_withdrawal": TypeRemoval,

	"CREDIT":                            TypeDividend,
	"ssp_corporate_action_invoice_cash": TypeDividend,

	"INTEREST_PAYOUT":         TypeInterest,
	"INTEREST_PAYOUT_CREATED": TypeInterest,

	"card_order_billed":   TypeFees,
	"card_successful_oct": TypeDeposit,
}

// Trades are exported as Buy or Sell depending on the direction of the cash flow
var tradeEventTypes = map[string]bool{
	"TRADE_INVOICE":                true,
	"ORDER_EXECUTED":               true,
	"SAVINGS_PLAN_EXECUTED":        true,
	"SAVINGS_PLAN_INVOICE_CREATED": true,
	"benefits_saveback_execution":  true,
	"trading_savingsplan_executed": true,
	"trading_trade_executed":       true,
}

// Tax events are refunds when money comes in and taxes when it goes out
var taxEventTypes = map[string]bool{
	"TAX_REFUND":                      true,
	"TAX_CORRECTION":                  true,
	"ssp_tax_correction_invoice":      true,
	"PRE_DETERMINED_TAX_BASE_EARNING": true,
}

func classify(e *Event) Type {
	if strings.EqualFold(e.Status, "CANCELED") || strings.EqualFold(e.Status, "CANCELLED") {
		return ""
	}

	if tradeEventTypes[e.RawType] {
		if e.Value.IsNegative() {
			return TypeBuy
		}
		return TypeSell
	}

	if taxEventTypes[e.RawType] {
		if e.Value.IsNegative() {
			return TypeTaxes
		}
		return TypeTaxRefund
	}

	if t, ok := typesByEventType[e.RawType]; ok {
		return t
	}
	return ""
}

package export

import (
	"encoding/csv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/aristath/tradelog/internal/events"
	"github.com/aristath/tradelog/internal/locale"
)

// Column order of the account transactions import
const (
	colDate = iota
	colType
	colValue
	colNote
	colISIN
	colShares
	colFees
	colTaxes
	numColumns
)

type translation struct {
	header  [numColumns]string
	types   map[events.Type]string
	decimal string
}

var translations = map[locale.Language]translation{
	"cs": {
		header:  [numColumns]string{"Datum", "Typ", "Hodnota", "Poznámka", "ISIN", "Podíly", "Poplatky", "Daně"},
		types:   typeNames("Vklad", "Výběr", "Dividenda", "Úroky", "Nákup", "Prodej", "Daně", "Vrácení daně", "Poplatky"),
		decimal: ",",
	},
	"da": {
		header:  [numColumns]string{"Dato", "Type", "Værdi", "Note", "ISIN", "Andele", "Gebyrer", "Skatter"},
		types:   typeNames("Indskud", "Hævning", "Udbytte", "Renter", "Køb", "Salg", "Skatter", "Skatterefusion", "Gebyrer"),
		decimal: ",",
	},
	"de": {
		header:  [numColumns]string{"Datum", "Typ", "Wert", "Notiz", "ISIN", "Stück", "Gebühren", "Steuern"},
		types:   typeNames("Einlage", "Entnahme", "Dividende", "Zinsen", "Kauf", "Verkauf", "Steuern", "Steuerrückerstattung", "Gebühren"),
		decimal: ",",
	},
	"en": {
		header:  [numColumns]string{"Date", "Type", "Value", "Note", "ISIN", "Shares", "Fees", "Taxes"},
		types:   typeNames("Deposit", "Removal", "Dividend", "Interest", "Buy", "Sell", "Taxes", "Tax Refund", "Fees"),
		decimal: ".",
	},
	"es": {
		header:  [numColumns]string{"Fecha", "Tipo", "Valor", "Nota", "ISIN", "Participaciones", "Comisiones", "Impuestos"},
		types:   typeNames("Depósito", "Retiro", "Dividendo", "Intereses", "Compra", "Venta", "Impuestos", "Devolución de impuestos", "Comisiones"),
		decimal: ",",
	},
	"fr": {
		header:  [numColumns]string{"Date", "Type", "Valeur", "Note", "ISIN", "Parts", "Frais", "Impôts"},
		types:   typeNames("Dépôt", "Retrait", "Dividende", "Intérêts", "Achat", "Vente", "Impôts", "Remboursement d'impôts", "Frais"),
		decimal: ",",
	},
	"it": {
		header:  [numColumns]string{"Data", "Tipo", "Valore", "Nota", "ISIN", "Azioni", "Commissioni", "Tasse"},
		types:   typeNames("Deposito", "Prelievo", "Dividendo", "Interessi", "Acquisto", "Vendita", "Tasse", "Rimborso tasse", "Commissioni"),
		decimal: ",",
	},
	"nl": {
		header:  [numColumns]string{"Datum", "Type", "Waarde", "Notitie", "ISIN", "Aandelen", "Kosten", "Belastingen"},
		types:   typeNames("Storting", "Opname", "Dividend", "Rente", "Aankoop", "Verkoop", "Belastingen", "Belastingteruggave", "Kosten"),
		decimal: ",",
	},
	"pl": {
		header:  [numColumns]string{"Data", "Typ", "Wartość", "Notatka", "ISIN", "Udziały", "Opłaty", "Podatki"},
		types:   typeNames("Wpłata", "Wypłata", "Dywidenda", "Odsetki", "Kupno", "Sprzedaż", "Podatki", "Zwrot podatku", "Opłaty"),
		decimal: ",",
	},
	"pt": {
		header:  [numColumns]string{"Data", "Tipo", "Valor", "Nota", "ISIN", "Ações", "Taxas", "Impostos"},
		types:   typeNames("Depósito", "Levantamento", "Dividendo", "Juros", "Compra", "Venda", "Impostos", "Reembolso de impostos", "Taxas"),
		decimal: ",",
	},
	"ru": {
		header:  [numColumns]string{"Дата", "Тип", "Значение", "Примечание", "ISIN", "Акции", "Комиссии", "Налоги"},
		types:   typeNames("Депозит", "Снятие", "Дивиденды", "Проценты", "Покупка", "Продажа", "Налоги", "Возврат налога", "Комиссии"),
		decimal: ",",
	},
	"zh": {
		header:  [numColumns]string{"日期", "类型", "价值", "备注", "ISIN", "股份", "费用", "税金"},
		types:   typeNames("存入", "取出", "股息", "利息", "买入", "卖出", "税金", "退税", "费用"),
		decimal: ".",
	},
}

func typeNames(deposit, removal, dividend, interest, buy, sell, taxes, taxRefund, fees string) map[events.Type]string {
	return map[events.Type]string{
		events.TypeDeposit:   deposit,
		events.TypeRemoval:   removal,
		events.TypeDividend:  dividend,
		events.TypeInterest:  interest,
		events.TypeBuy:       buy,
		events.TypeSell:      sell,
		events.TypeTaxes:     taxes,
		events.TypeTaxRefund: taxRefund,
		events.TypeFees:      fees,
	}
}

// CSVFormatter renders events as semicolon-separated account transactions
// with language-specific headers, type names and decimal separator.
type CSVFormatter struct {
	lang locale.Language
	tr   translation
}

// NewCSVFormatter creates a formatter. Unknown languages use English.
func NewCSVFormatter(lang locale.Language) *CSVFormatter {
	tr, ok := translations[lang]
	if !ok {
		lang = locale.Fallback
		tr = translations[lang]
	}
	return &CSVFormatter{lang: lang, tr: tr}
}

// Language returns the language the formatter renders
func (f *CSVFormatter) Language() locale.Language {
	return f.lang
}

// FormatHeader returns the header line, newline terminated
func (f *CSVFormatter) FormatHeader() string {
	return writeRecord(f.tr.header[:])
}

// Format returns the CSV line of an event, newline terminated. Events with no
// account transaction type render as the empty string.
func (f *CSVFormatter) Format(e *events.Event) string {
	name, ok := f.tr.types[e.Type]
	if !ok {
		return ""
	}

	var fields [numColumns]string
	fields[colDate] = e.Date.Format("2006-01-02")
	fields[colType] = name
	fields[colValue] = f.number(e.Value)
	fields[colNote] = note(e)
	fields[colISIN] = e.ISIN
	fields[colShares] = f.optional(e.Shares)
	fields[colFees] = f.optional(e.Fees)
	fields[colTaxes] = f.optional(e.Taxes)
	return writeRecord(fields[:])
}

func (f *CSVFormatter) number(d decimal.Decimal) string {
	return strings.Replace(d.String(), ".", f.tr.decimal, 1)
}

func (f *CSVFormatter) optional(n decimal.NullDecimal) string {
	if !n.Valid {
		return ""
	}
	return f.number(n.Decimal)
}

func note(e *events.Event) string {
	if e.Subtitle == "" {
		return e.Title
	}
	if e.Title == "" {
		return e.Subtitle
	}
	return e.Title + " - " + e.Subtitle
}

func writeRecord(fields []string) string {
	var b strings.Builder
	w := csv.NewWriter(&b)
	w.Comma = ';'
	// Writes to a strings.Builder cannot fail
	_ = w.Write(fields)
	w.Flush()
	return b.String()
}

package extraction

// buildExtractionPrompt asks the model for a strict JSON object matching
// domain.InvoiceFields. Field semantics mirror the back-office bookkeeping
// conventions: dates DD/MM/YYYY, ISO currency, ISO 3166-1 alpha-2 country.
func buildExtractionPrompt() string {
	return `You are an accounting assistant extracting structured data from a financial document.
Return a strict JSON object with exactly these keys:
doc_kind (string: "invoice" or "sale"),
invoice_number (string),
supplier_name (string),
supplier_vat (string),
issue_date (string, format DD/MM/YYYY),
category (string),
description (string),
net_amount (number, amount before VAT),
vat_rate (number, VAT percentage),
total_amount (number),
currency (string, ISO 4217 code, e.g. EUR),
exchange_rate (number, rate from currency to EUR, or null if currency is EUR),
country_code (string, ISO 3166-1 alpha-2 of the supplier country),
notes (string, anything unusual worth flagging).

Use null for numeric values you cannot determine and "" for unknown strings.
No markdown fences, no extra keys, no commentary.`
}

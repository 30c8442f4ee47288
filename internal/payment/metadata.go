package payment

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// MetadataInvoiceKey is the metadata field that round-trips the invoice id through the provider.
const MetadataInvoiceKey = "invoice_id"

// InvoiceIDFromMetadata extracts a positive invoice id from provider metadata.
// Numbers and numeric strings are accepted; anything else reports false.
func InvoiceIDFromMetadata(metadata map[string]any) (int64, bool) {
	if metadata == nil {
		return 0, false
	}
	raw, ok := metadata[MetadataInvoiceKey]
	if !ok || raw == nil {
		return 0, false
	}
	var id int64
	switch v := raw.(type) {
	case int:
		id = int64(v)
	case int32:
		id = int64(v)
	case int64:
		id = v
	case float64:
		if v != math.Trunc(v) || v > math.MaxInt64 {
			return 0, false
		}
		id = int64(v)
	case json.Number:
		parsed, err := strconv.ParseInt(v.String(), 10, 64)
		if err != nil {
			return 0, false
		}
		id = parsed
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, false
		}
		id = parsed
	default:
		return 0, false
	}
	if id <= 0 {
		return 0, false
	}
	return id, true
}

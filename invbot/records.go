package invbot

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// vatRate is the value-added tax rate applied to invoice subtotals
// when the VAT flag is set.
var vatRate = decimal.NewFromFloat(0.07)

// RecordKind identifies one of the three record tables.
type RecordKind string

const (
	RecordKindDocument RecordKind = "document"
	RecordKindInvoice  RecordKind = "invoice"
	RecordKindReceipt  RecordKind = "receipt"
)

// Prefix returns the sequence number prefix for the record kind
// (ex: `DOC-2024-001`).
func (k RecordKind) Prefix() string {
	switch k {
	case RecordKindDocument:
		return "DOC"
	case RecordKindInvoice:
		return "INV"
	case RecordKindReceipt:
		return "RC"
	default:
		return ""
	}
}

func (k RecordKind) String() string {
	return string(k)
}

// DocumentType is the category of an office document.
type DocumentType string

const (
	DocumentTypeCertificate        DocumentType = "certificate"
	DocumentTypeDailyReport        DocumentType = "daily_report"
	DocumentTypeMonthlyReport      DocumentType = "monthly_report"
	DocumentTypeApprovalRequest    DocumentType = "approval_request"
	DocumentTypeApproval           DocumentType = "approval"
	DocumentTypeReceipt            DocumentType = "receipt"
	DocumentTypePaymentCertificate DocumentType = "payment_certificate"
)

// DocumentTypes returns all valid document categories, in the order
// they're presented as slash command choices.
func DocumentTypes() []DocumentType {
	return []DocumentType{
		DocumentTypeCertificate,
		DocumentTypeDailyReport,
		DocumentTypeMonthlyReport,
		DocumentTypeApprovalRequest,
		DocumentTypeApproval,
		DocumentTypeReceipt,
		DocumentTypePaymentCertificate,
	}
}

// Label returns a human-readable name for the document type.
func (t DocumentType) Label() string {
	switch t {
	case DocumentTypeCertificate:
		return "Certificate"
	case DocumentTypeDailyReport:
		return "Daily Report"
	case DocumentTypeMonthlyReport:
		return "Monthly Report"
	case DocumentTypeApprovalRequest:
		return "Approval Request"
	case DocumentTypeApproval:
		return "Approval"
	case DocumentTypeReceipt:
		return "Receipt"
	case DocumentTypePaymentCertificate:
		return "Payment Certificate"
	default:
		return string(t)
	}
}

func (t DocumentType) Valid() bool {
	for _, dt := range DocumentTypes() {
		if t == dt {
			return true
		}
	}
	return false
}

// ModelUintID is an embeddable model providing the store-assigned,
// monotonic integer primary key shared by all record kinds.
type ModelUintID struct {
	ID uint `gorm:"primaryKey" json:"id"`
}

// RecordFields holds the fields shared by every record kind: the
// sequence number assigned at creation, the creation timestamp, and
// the identity of the creating user. Records are immutable after
// creation - there is no UpdatedAt.
type RecordFields struct {
	SequenceNumber string `gorm:"uniqueIndex;not null" json:"sequence_number"`
	CreatedAt      int64  `gorm:"autoCreateTime:milli" json:"created_at,omitempty"`

	// UserID is the Discord user ID of the creator, used for
	// visibility checks. Username is kept for display only.
	UserID   string `gorm:"index" json:"user_id"`
	Username string `json:"username"`
}

// Document is an internal office document record.
type Document struct {
	ModelUintID
	RecordFields
	Type    DocumentType `gorm:"type:string;not null" json:"type"`
	Title   string       `gorm:"not null" json:"title"`
	Content string       `gorm:"type:string" json:"content"`
}

func (d Document) validate() error {
	if !d.Type.Valid() {
		return &ValidationError{Field: "type", Message: fmt.Sprintf("unknown document type %q", string(d.Type))}
	}
	if strings.TrimSpace(d.Title) == "" {
		return &ValidationError{Field: "title", Message: "title must not be empty"}
	}
	if strings.TrimSpace(d.Content) == "" {
		return &ValidationError{Field: "content", Message: "content must not be empty"}
	}
	return nil
}

func (d Document) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Uint64("id", uint64(d.ID)),
		slog.String("sequence_number", d.SequenceNumber),
		slog.String("type", string(d.Type)),
		slog.String("title", d.Title),
		slog.String(columnUserID, d.UserID),
	)
}

// InvoiceItem is a single invoice line item. The JSON field names
// match the shape accepted by the `/invoice` command's items option:
// `[{"name":"Widget","qty":2,"price":100}]`
type InvoiceItem struct {
	Name      string          `json:"name"`
	Quantity  int             `json:"qty"`
	UnitPrice decimal.Decimal `json:"price"`
}

// Amount returns quantity * unit price.
func (i InvoiceItem) Amount() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// InvoiceItems is an ordered list of invoice line items, persisted
// as a JSON column.
type InvoiceItems []InvoiceItem

// Scan implements the sql.Scanner interface.
func (items *InvoiceItems) Scan(value any) error {
	switch v := value.(type) {
	case nil:
		*items = nil
		return nil
	case []byte:
		return json.Unmarshal(v, items)
	case string:
		return json.Unmarshal([]byte(v), items)
	default:
		return fmt.Errorf("unexpected type for InvoiceItems: %T", value)
	}
}

// Value implements the driver.Valuer interface.
func (items InvoiceItems) Value() (driver.Value, error) {
	data, err := json.Marshal(items)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// GormDataType is used by GORM to determine the default data type for a field.
func (InvoiceItems) GormDataType() string {
	return "string"
}

// Invoice is a tax invoice record. Subtotal, Tax and GrandTotal are
// derived from the item list by ComputeTotals and never entered
// independently.
type Invoice struct {
	ModelUintID
	RecordFields
	Customer   string          `gorm:"not null" json:"customer"`
	Items      InvoiceItems    `json:"items"`
	VATApplied bool            `json:"vat_applied"`
	Subtotal   decimal.Decimal `gorm:"type:string" json:"subtotal"`
	Tax        decimal.Decimal `gorm:"type:string" json:"tax"`
	GrandTotal decimal.Decimal `gorm:"type:string" json:"grand_total"`
}

// ComputeTotals derives Subtotal, Tax and GrandTotal from the item
// list and the VAT flag. Tax is the subtotal at the 7% VAT rate,
// rounded to 2 decimal places, or zero when VAT doesn't apply.
func (inv *Invoice) ComputeTotals() {
	subtotal := decimal.Zero
	for _, item := range inv.Items {
		subtotal = subtotal.Add(item.Amount())
	}
	tax := decimal.Zero
	if inv.VATApplied {
		tax = subtotal.Mul(vatRate).Round(2)
	}
	inv.Subtotal = subtotal
	inv.Tax = tax
	inv.GrandTotal = subtotal.Add(tax)
}

func (inv Invoice) validate() error {
	if strings.TrimSpace(inv.Customer) == "" {
		return &ValidationError{Field: "customer", Message: "customer must not be empty"}
	}
	if len(inv.Items) == 0 {
		return &ValidationError{Field: "items", Message: "at least one item is required"}
	}
	for n, item := range inv.Items {
		if strings.TrimSpace(item.Name) == "" {
			return &ValidationError{
				Field:   "items",
				Message: fmt.Sprintf("item %d: name must not be empty", n+1),
			}
		}
		if item.Quantity <= 0 {
			return &ValidationError{
				Field:   "items",
				Message: fmt.Sprintf("item %d: quantity must be > 0", n+1),
			}
		}
		if item.UnitPrice.IsNegative() {
			return &ValidationError{
				Field:   "items",
				Message: fmt.Sprintf("item %d: unit price must be >= 0", n+1),
			}
		}
	}
	return nil
}

func (inv Invoice) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Uint64("id", uint64(inv.ID)),
		slog.String("sequence_number", inv.SequenceNumber),
		slog.String("customer", inv.Customer),
		slog.Bool("vat_applied", inv.VATApplied),
		slog.String("grand_total", inv.GrandTotal.StringFixed(2)),
		slog.String(columnUserID, inv.UserID),
	)
}

// ParseInvoiceItems parses the JSON item list accepted by the
// `/invoice` command.
func ParseInvoiceItems(raw string) (InvoiceItems, error) {
	var items InvoiceItems
	decoder := json.NewDecoder(strings.NewReader(raw))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&items); err != nil {
		return nil, &ValidationError{
			Field:   "items",
			Message: fmt.Sprintf("items must be a JSON array like %s: %v", invoiceItemsExample, err),
		}
	}
	return items, nil
}

const invoiceItemsExample = `[{"name":"Widget","qty":2,"price":100}]`

// Receipt is a payment receipt record. Items are kept as a free-text
// description rather than structured line items.
type Receipt struct {
	ModelUintID
	RecordFields
	Shop             string          `gorm:"not null" json:"shop"`
	Customer         string          `gorm:"not null" json:"customer"`
	ItemsDescription string          `gorm:"type:string" json:"items_description"`
	Total            decimal.Decimal `gorm:"type:string" json:"total"`
}

func (r Receipt) validate() error {
	if strings.TrimSpace(r.Shop) == "" {
		return &ValidationError{Field: "shop", Message: "shop must not be empty"}
	}
	if strings.TrimSpace(r.Customer) == "" {
		return &ValidationError{Field: "customer", Message: "customer must not be empty"}
	}
	if strings.TrimSpace(r.ItemsDescription) == "" {
		return &ValidationError{Field: "items", Message: "items must not be empty"}
	}
	if r.Total.IsNegative() {
		return &ValidationError{Field: "total", Message: "total must be >= 0"}
	}
	return nil
}

func (r Receipt) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Uint64("id", uint64(r.ID)),
		slog.String("sequence_number", r.SequenceNumber),
		slog.String("shop", r.Shop),
		slog.String("customer", r.Customer),
		slog.String("total", r.Total.StringFixed(2)),
		slog.String(columnUserID, r.UserID),
	)
}

// RecordFilter optionally restricts ListRecent queries by creator,
// document type, and/or creation date range. The zero value applies
// no restrictions.
type RecordFilter struct {
	// UserID restricts results to records created by the given user.
	UserID string

	// DocumentType restricts document results to the given category.
	// Ignored for invoices and receipts.
	DocumentType DocumentType

	// From/To restrict by creation time (inclusive). Zero values are
	// ignored.
	From int64
	To   int64
}

func (f RecordFilter) apply(tx *gorm.DB) *gorm.DB {
	if f.UserID != "" {
		tx = tx.Where("user_id = ?", f.UserID)
	}
	if f.DocumentType != "" {
		tx = tx.Where("type = ?", string(f.DocumentType))
	}
	if f.From > 0 {
		tx = tx.Where("created_at >= ?", f.From)
	}
	if f.To > 0 {
		tx = tx.Where("created_at <= ?", f.To)
	}
	return tx
}

// mapStorageErr converts gorm/database errors into the storage error
// taxonomy. Not-found is surfaced as ErrNotFound; context deadline
// errors as ErrStorageTimeout; anything else as ErrStorageUnavailable.
func mapStorageErr(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrStorageTimeout), errors.Is(err, ErrStorageUnavailable):
		return err
	case isTimeout(err):
		return fmt.Errorf("%w: %v", ErrStorageTimeout, err)
	default:
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
}

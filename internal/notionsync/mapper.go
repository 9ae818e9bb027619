package notionsync

import (
	"time"

	"cloud.google.com/go/civil"
	"github.com/jomei/notionapi"

	"github.com/dvloznov/finance-importer/internal/domain"
)

// Property names of the Notion transactions database.
const (
	propDescription   = "Description"
	propTransactionID = "Transaction ID"
	propDate          = "Date"
	propAmount        = "Amount"
	propDirection     = "Direction"
	propCurrency      = "Currency"
	propAccount       = "Account"
	propCategory      = "Category"
	propImportID      = "Import ID"
	propImportedAt    = "Imported At"
)

func richText(s string) []notionapi.RichText {
	return []notionapi.RichText{
		{
			Type: notionapi.ObjectTypeText,
			Text: &notionapi.Text{Content: s},
		},
	}
}

func dateProperty(t time.Time) notionapi.DateProperty {
	d := notionapi.Date(t)
	return notionapi.DateProperty{Date: &notionapi.DateObject{Start: &d}}
}

func civilTime(d civil.Date) time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}

// TransactionProperties converts a committed transaction to Notion
// properties. Expenses are exported as negative amounts.
func TransactionProperties(tx domain.Transaction, accountName, categoryName, currency string) notionapi.Properties {
	amount := tx.Amount
	if tx.Direction == domain.DirectionExpense {
		amount = amount.Neg()
	}
	value, _ := amount.Float64()

	props := notionapi.Properties{
		propDescription: notionapi.TitleProperty{
			Title: richText(tx.Description),
		},
		propTransactionID: notionapi.RichTextProperty{
			RichText: richText(tx.ID),
		},
		propDate: dateProperty(civilTime(tx.Date)),
		propAmount: notionapi.NumberProperty{
			Number: value,
		},
		propDirection: notionapi.SelectProperty{
			Select: notionapi.Option{Name: string(tx.Direction)},
		},
	}

	if currency != "" {
		props[propCurrency] = notionapi.SelectProperty{
			Select: notionapi.Option{Name: currency},
		}
	}

	if accountName != "" {
		props[propAccount] = notionapi.SelectProperty{
			Select: notionapi.Option{Name: accountName},
		}
	}

	if categoryName != "" {
		props[propCategory] = notionapi.SelectProperty{
			Select: notionapi.Option{Name: categoryName},
		}
	}

	if tx.ImportID != "" {
		props[propImportID] = notionapi.RichTextProperty{
			RichText: richText(tx.ImportID),
		}
	}

	if !tx.CreatedAt.IsZero() {
		props[propImportedAt] = dateProperty(tx.CreatedAt)
	}

	return props
}

// transactionID reads the Transaction ID property of a page, or "".
func transactionID(page notionapi.Page) string {
	switch prop := page.Properties[propTransactionID].(type) {
	case *notionapi.RichTextProperty:
		return plainText(prop.RichText)
	case notionapi.RichTextProperty:
		return plainText(prop.RichText)
	}
	return ""
}

func plainText(rt []notionapi.RichText) string {
	if len(rt) == 0 {
		return ""
	}
	if rt[0].PlainText != "" {
		return rt[0].PlainText
	}
	if rt[0].Text != nil {
		return rt[0].Text.Content
	}
	return ""
}

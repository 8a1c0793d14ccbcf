package email

import (
	"bytes"
	"html/template"

	"github.com/shopspring/decimal"
)

// OrderItem represents an item in an order for email purposes
type OrderItem struct {
	ProductID string
	Name      string
	Quantity  int
	Price     decimal.Decimal
}

type confirmationLine struct {
	Name     string
	Quantity int
	Price    string
	Subtotal string
}

type confirmationData struct {
	OrderID string
	Lines   []confirmationLine
	Total   string
}

var orderConfirmationTemplate = template.Must(template.New("order_confirmation").Parse(`<!DOCTYPE html>
<html>
<head>
	<meta charset="UTF-8">
	<meta name="viewport" content="width=device-width, initial-scale=1.0">
</head>
<body style="font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px;">
	<div style="background: #2f6f4f; padding: 30px; border-radius: 10px 10px 0 0;">
		<h1 style="color: white; margin: 0; font-size: 24px;">Thank you for your order</h1>
	</div>

	<div style="background: #fff; padding: 30px; border: 1px solid #eee; border-top: none; border-radius: 0 0 10px 10px;">
		<p style="margin-top: 0;">We have received your order and reserved your items.</p>

		<div style="background: #f8f9fa; padding: 15px; border-radius: 5px; margin: 20px 0;">
			<p style="margin: 0; font-size: 14px; color: #666;">Order number</p>
			<p style="margin: 5px 0 0 0; font-size: 18px; font-weight: bold; font-family: monospace;">{{.OrderID}}</p>
		</div>

		<table style="width: 100%; border-collapse: collapse; margin: 20px 0;">
			<thead>
				<tr style="background: #f8f9fa;">
					<th style="padding: 12px; text-align: left;">Item</th>
					<th style="padding: 12px; text-align: center;">Qty</th>
					<th style="padding: 12px; text-align: right;">Price</th>
					<th style="padding: 12px; text-align: right;">Subtotal</th>
				</tr>
			</thead>
			<tbody>
			{{- range .Lines}}
				<tr>
					<td style="padding: 12px; border-bottom: 1px solid #eee;">{{.Name}}</td>
					<td style="padding: 12px; border-bottom: 1px solid #eee; text-align: center;">{{.Quantity}}</td>
					<td style="padding: 12px; border-bottom: 1px solid #eee; text-align: right;">{{.Price}}</td>
					<td style="padding: 12px; border-bottom: 1px solid #eee; text-align: right;">{{.Subtotal}}</td>
				</tr>
			{{- end}}
			</tbody>
		</table>

		<div style="text-align: right; padding: 20px; background: #f8f9fa; border-radius: 5px;">
			<span style="font-size: 14px; color: #666;">Total</span>
			<span style="font-size: 24px; font-weight: bold; margin-left: 10px;">{{.Total}}</span>
		</div>

		<p style="font-size: 12px; color: #999; margin-bottom: 0;">
			This is an automated message. Please contact support if you have any questions.
		</p>
	</div>
</body>
</html>`))

// BuildOrderConfirmationBody renders the HTML body for an order confirmation.
// Item names fall back to the product id.
func BuildOrderConfirmationBody(orderID, total string, items []OrderItem) (string, error) {
	data := confirmationData{OrderID: orderID, Total: total, Lines: make([]confirmationLine, len(items))}
	for i, item := range items {
		name := item.Name
		if name == "" {
			name = item.ProductID
		}
		data.Lines[i] = confirmationLine{
			Name:     name,
			Quantity: item.Quantity,
			Price:    item.Price.StringFixed(2),
			Subtotal: item.Price.Mul(decimal.NewFromInt(int64(item.Quantity))).StringFixed(2),
		}
	}

	var buf bytes.Buffer
	if err := orderConfirmationTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

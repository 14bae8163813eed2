// Package notify delivers order confirmations by email.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/merch-checkout/internal/domain/order"
)

var _ order.Notifier = (*SMTPNotifier)(nil)

// SMTPConfig configures an SMTPNotifier.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	ShopName string
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPNotifier sends a plain-text receipt for every stored order.
type SMTPNotifier struct {
	cfg  SMTPConfig
	addr string
	auth smtp.Auth
	send sendFunc
	now  func() time.Time
}

// NewSMTPNotifier validates cfg and returns a notifier. Authentication is
// used only when a username is set.
func NewSMTPNotifier(cfg SMTPConfig) (*SMTPNotifier, error) {
	if cfg.Host == "" || cfg.From == "" {
		return nil, errors.New("smtp host and from address required")
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.ShopName == "" {
		cfg.ShopName = "Merch Shop"
	}
	n := &SMTPNotifier{
		cfg:  cfg,
		addr: net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		send: smtp.SendMail,
		now:  time.Now,
	}
	if cfg.Username != "" {
		n.auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	return n, nil
}

// Notify renders and sends the confirmation. smtp.SendMail has no context
// support, so ctx is only checked before sending.
func (n *SMTPNotifier) Notify(ctx context.Context, c order.Confirmation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.ContainsAny(c.To, "\r\n") || c.To == "" {
		return errors.Errorf("invalid recipient %q", c.To)
	}

	msg, err := n.render(c)
	if err != nil {
		return errors.Wrap(err, "render confirmation")
	}
	if err := n.send(n.addr, n.auth, n.cfg.From, []string{c.To}, msg); err != nil {
		return errors.Wrapf(err, "send confirmation for %s", c.Order.ID)
	}
	return nil
}

type receiptData struct {
	Shop         string
	From         string
	To           string
	Date         string
	Order        *order.Order
	Subtotal     string
	Shipping     string
	Total        string
	DisplayTotal string
	Simulated    bool
}

func (n *SMTPNotifier) render(c order.Confirmation) ([]byte, error) {
	o := c.Order
	data := receiptData{
		Shop:      n.cfg.ShopName,
		From:      n.cfg.From,
		To:        c.To,
		Date:      n.now().UTC().Format(time.RFC1123Z),
		Order:     o,
		Subtotal:  formatCents(o.SubtotalCents, order.ReferenceCurrency),
		Shipping:  formatCents(o.ShippingCents, order.ReferenceCurrency),
		Total:     formatCents(o.TotalCents, order.ReferenceCurrency),
		Simulated: o.Status == order.StatusSimulated,
	}
	if o.DisplayCurrency != "" && o.DisplayCurrency != order.ReferenceCurrency {
		data.DisplayTotal = formatCents(c.DisplayTotalCents, o.DisplayCurrency)
	}

	var buf bytes.Buffer
	if err := receiptTemplate.Execute(&buf, data); err != nil {
		return nil, err
	}
	// SMTP requires CRLF line endings.
	return bytes.ReplaceAll(buf.Bytes(), []byte("\n"), []byte("\r\n")), nil
}

func formatCents(cents int64, currency string) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d %s", sign, cents/100, cents%100, currency)
}

var receiptTemplate = template.Must(template.New("receipt").Funcs(template.FuncMap{
	"cents": func(v int64) string { return formatCents(v, order.ReferenceCurrency) },
	"mul":   func(a int64, b int) int64 { return a * int64(b) },
}).Parse(`From: {{.Shop}} <{{.From}}>
To: {{.To}}
Subject: Your {{.Shop}} order {{.Order.ID}}
Date: {{.Date}}
MIME-Version: 1.0
Content-Type: text/plain; charset=UTF-8

Hi {{with .Order.Address.FirstName}}{{.}}{{else}}there{{end}},

Thanks for your order!{{if .Simulated}} This order was simulated and will not be shipped.{{end}}

Order: {{.Order.ID}}
{{with .Order.ExternalOrderRef}}Reference: {{.}}
{{end}}
{{range .Order.LineItems}}  {{.Quantity}} x {{.ProductRef}}{{with .VariantRef}} ({{.}}){{end}}  {{cents (mul .UnitPriceCents .Quantity)}}
{{end}}
Subtotal: {{.Subtotal}}
Shipping ({{.Order.ShippingMethod}}): {{.Shipping}}
Total: {{.Total}}
{{with .DisplayTotal}}Approximately {{.}}
{{end}}
Ship to:
  {{.Order.Address.AddressLine1}}
  {{.Order.Address.City}} {{.Order.Address.PostalCode}}
  {{.Order.Address.Country}}
`))

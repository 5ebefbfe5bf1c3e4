package authnet

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/Dan9191/loan-service/internal/config"
	"github.com/Dan9191/loan-service/internal/models"
	"github.com/Dan9191/loan-service/internal/utils"
	"github.com/beevik/etree"
	"github.com/sirupsen/logrus"
)

const schemaNamespace = "AnetApi/xml/v1/schema/AnetApiSchema.xsd"

// Charge is a recurring charge against a stored customer payment profile.
// No card number or CVV is involved.
type Charge struct {
	Amount            int64 // minor units
	CustomerProfileID string
	PaymentProfileID  string
	Billing           models.BillingAddress
	InvoiceNumber     string
	Description       string
	ReferenceID       string
}

// Result is the processor's verdict on a charge.
type Result struct {
	Success       bool
	TransactionID string
	ErrorText     string
}

// Client charges customer payment profiles through the Authorize.net XML API
type Client struct {
	url            string
	loginID        string
	transactionKey string
	client         *http.Client
	log            *logrus.Logger
}

// NewClient initializes a new card processor client
func NewClient(cfg *config.Config, log *logrus.Logger) *Client {
	return &Client{
		url:            cfg.AuthNetURL,
		loginID:        cfg.AuthNetLoginID,
		transactionKey: cfg.AuthNetTransactionKey,
		client: &http.Client{
			Timeout: cfg.RailTimeout,
		},
		log: log,
	}
}

// Charge runs an authCaptureTransaction against the customer's payment profile
func (c *Client) Charge(ctx context.Context, charge Charge) (Result, error) {
	if c.loginID == "" || c.transactionKey == "" {
		return Result{ErrorText: "Card processor credentials not configured"}, nil
	}

	body, err := c.buildRequest(charge).WriteToBytes()
	if err != nil {
		return Result{}, fmt.Errorf("failed to encode request: %w", err)
	}

	raw, err := c.sendRequest(ctx, body)
	if err != nil {
		return Result{}, err
	}
	return c.parseResponse(raw)
}

// buildRequest creates a createTransactionRequest document
func (c *Client) buildRequest(charge Charge) *etree.Document {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="utf-8"`)

	root := doc.CreateElement("createTransactionRequest")
	root.CreateAttr("xmlns", schemaNamespace)

	auth := root.CreateElement("merchantAuthentication")
	auth.CreateElement("name").SetText(c.loginID)
	auth.CreateElement("transactionKey").SetText(c.transactionKey)
	if charge.ReferenceID != "" {
		root.CreateElement("refId").SetText(truncate(charge.ReferenceID, 20))
	}

	tx := root.CreateElement("transactionRequest")
	tx.CreateElement("transactionType").SetText("authCaptureTransaction")
	tx.CreateElement("amount").SetText(utils.FormatMinor(charge.Amount))

	profile := tx.CreateElement("profile")
	profile.CreateElement("customerProfileId").SetText(charge.CustomerProfileID)
	profile.CreateElement("paymentProfile").CreateElement("paymentProfileId").SetText(charge.PaymentProfileID)

	order := tx.CreateElement("order")
	order.CreateElement("invoiceNumber").SetText(truncate(charge.InvoiceNumber, 20))
	order.CreateElement("description").SetText(truncate(charge.Description, 255))

	bill := tx.CreateElement("billTo")
	bill.CreateElement("firstName").SetText(charge.Billing.FirstName)
	bill.CreateElement("lastName").SetText(charge.Billing.LastName)
	bill.CreateElement("address").SetText(charge.Billing.Address)
	bill.CreateElement("city").SetText(charge.Billing.City)
	bill.CreateElement("state").SetText(charge.Billing.State)
	bill.CreateElement("zip").SetText(charge.Billing.Zip)
	bill.CreateElement("country").SetText(charge.Billing.Country)

	return doc
}

// sendRequest posts the XML document to the processor
func (c *Client) sendRequest(ctx context.Context, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	c.log.Debugf("Card processor XML response: %s", string(raw))
	return raw, nil
}

// parseResponse extracts the transaction verdict from createTransactionResponse
func (c *Client) parseResponse(raw []byte) (Result, error) {
	// the API prefixes its responses with a UTF-8 byte order mark
	raw = bytes.TrimPrefix(raw, []byte("\xef\xbb\xbf"))

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(raw); err != nil {
		return Result{}, fmt.Errorf("failed to parse XML: %w", err)
	}
	root := doc.Root()
	if root == nil {
		return Result{}, fmt.Errorf("empty XML response")
	}

	if tx := root.FindElement("./transactionResponse"); tx != nil {
		if code := tx.FindElement("./responseCode"); code != nil && strings.TrimSpace(code.Text()) == "1" {
			return Result{Success: true, TransactionID: textOf(tx, "./transId")}, nil
		}
		if msg := textOf(tx, "./errors/error/errorText"); msg != "" {
			return Result{ErrorText: msg}, nil
		}
	}
	if msg := textOf(root, "./messages/message/text"); msg != "" && textOf(root, "./messages/resultCode") != "Ok" {
		return Result{ErrorText: msg}, nil
	}
	return Result{ErrorText: "Payment failed"}, nil
}

func textOf(e *etree.Element, path string) string {
	if found := e.FindElement(path); found != nil {
		return strings.TrimSpace(found.Text())
	}
	return ""
}

// truncate keeps at most n characters of s without splitting a rune.
func truncate(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

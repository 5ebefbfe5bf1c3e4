package models

import (
	"errors"
	"fmt"
	"time"
)

// ErrUnknownPaymentMethodType is returned when a stored payment method
// carries a type the engine cannot route.
var ErrUnknownPaymentMethodType = errors.New("unknown payment method type")

// Rail identifies a payment execution channel.
type Rail string

const (
	RailCard   Rail = "card"
	RailCrypto Rail = "crypto"
)

// PaymentMethod is a borrower's stored payment method. The set of
// implementations is closed: CardMethod and CryptoMethod.
type PaymentMethod interface {
	Rail() Rail
	Description() string
	paymentMethod()
}

// StoredPaymentMethod carries the row metadata shared by every variant.
type StoredPaymentMethod struct {
	ID        int64
	UserID    int64
	IsDefault bool
	CreatedAt time.Time
	Method    PaymentMethod
}

// CardMethod is a tokenized card. Token is sealed by the vault and refers to
// a customer payment profile at the card processor; no CVV is kept.
type CardMethod struct {
	Brand       string `json:"brand"`
	Last4       string `json:"last4"`
	ExpiryMonth string `json:"expiry_month"`
	ExpiryYear  string `json:"expiry_year"`
	NameOnCard  string `json:"name_on_card"`
	Token       string `json:"-"`
}

func (CardMethod) Rail() Rail { return RailCard }

func (c CardMethod) Description() string {
	brand := c.Brand
	if brand == "" {
		brand = "Card"
	}
	return fmt.Sprintf("%s ****%s", brand, c.Last4)
}

func (CardMethod) paymentMethod() {}

// CryptoMethod is a wallet the crypto rail charges against.
type CryptoMethod struct {
	Currency      string `json:"currency"`
	WalletAddress string `json:"wallet_address"`
}

func (CryptoMethod) Rail() Rail { return RailCrypto }

func (c CryptoMethod) Description() string {
	addr := c.WalletAddress
	if len(addr) > 10 {
		addr = addr[:6] + "..." + addr[len(addr)-4:]
	}
	currency := c.Currency
	if currency == "" {
		currency = "Crypto"
	}
	return fmt.Sprintf("%s wallet %s", currency, addr)
}

func (CryptoMethod) paymentMethod() {}

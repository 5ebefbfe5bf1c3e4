package models

import (
	"strconv"
	"strings"
)

// Borrower represents the profile of a loan's owner
type Borrower struct {
	ID      int64  `json:"id"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Street  string `json:"street"`
	City    string `json:"city"`
	State   string `json:"state"`
	ZipCode string `json:"zip_code"`
	Country string `json:"country"`
}

// BillingAddress is sent to the card rail along with the card token.
type BillingAddress struct {
	FirstName string
	LastName  string
	Address   string
	City      string
	State     string
	Zip       string
	Country   string
}

// DisplayName falls back to the email when no name is on file.
func (b *Borrower) DisplayName() string {
	if strings.TrimSpace(b.Name) != "" {
		return b.Name
	}
	return b.Email
}

// BillingAddress builds the billing block for card charges.
func (b *Borrower) BillingAddress() BillingAddress {
	first, last := "User", "Name"
	parts := strings.Fields(b.Name)
	if len(parts) > 0 {
		first = parts[0]
	}
	if len(parts) > 1 {
		last = strings.Join(parts[1:], " ")
	}
	country := b.Country
	if country == "" {
		country = "US"
	}
	return BillingAddress{
		FirstName: first,
		LastName:  last,
		Address:   b.Street,
		City:      b.City,
		State:     b.State,
		Zip:       b.ZipCode,
		Country:   country,
	}
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}

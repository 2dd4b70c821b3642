package domain

import (
	"fmt"
	"regexp"
)

// Persona is a named behavioral tier, e.g. "Affluent Customers".
type Persona string

// Destination binds a persona to the table (or collection) that stores its
// customers.
type Destination struct {
	Persona Persona `json:"persona" yaml:"persona"`
	Table   string  `json:"table" yaml:"table"`
}

var tableNameRe = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

// Validate checks that the destination has a persona and a safe table name.
func (d Destination) Validate() error {
	if d.Persona == "" {
		return fmt.Errorf("destination %q: persona is required", d.Table)
	}
	if !tableNameRe.MatchString(d.Table) {
		return fmt.Errorf("destination %q: invalid table name %q", d.Persona, d.Table)
	}
	return nil
}

// Offer is the product pitched to a persona's customers.
type Offer struct {
	Persona     Persona `json:"persona" yaml:"persona"`
	ProductName string  `json:"product_name" yaml:"product_name"`
	Description string  `json:"description" yaml:"description"`
	KeyFeatures string  `json:"key_features" yaml:"key_features"`
}

// Message is generated marketing copy for one customer.
type Message struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

package domain

// CustomerRecord is one sanitized row of an uploaded batch. Boolean-like
// attributes are stored as 0/1. Columns whose values are not all numeric in a
// batch are kept as text in Categories.
type CustomerRecord struct {
	CustomerID string             `json:"customer_id" db:"customer_id"`
	Name       string             `json:"name" db:"name"`
	Email      string             `json:"email" db:"email"`
	Attributes map[string]float64 `json:"attributes" db:"attributes"`
	Categories map[string]string  `json:"categories,omitempty" db:"categories"`
}

// Attribute returns the named numeric attribute and whether it was present.
func (r CustomerRecord) Attribute(name string) (float64, bool) {
	v, ok := r.Attributes[name]
	return v, ok
}

// Value returns the named column as a float64 or a string, whichever the
// record holds.
func (r CustomerRecord) Value(name string) (interface{}, bool) {
	if v, ok := r.Attributes[name]; ok {
		return v, true
	}
	if v, ok := r.Categories[name]; ok {
		return v, true
	}
	return nil, false
}

// ClusterAssignment is the classifier's output for one record. It is batch
// scoped and never persisted.
type ClusterAssignment struct {
	CustomerID string `json:"customer_id"`
	ClusterID  int    `json:"cluster_id"`
}

// LabeledRecord is a customer record together with the persona its cluster
// was assigned in the current batch.
type LabeledRecord struct {
	Record    CustomerRecord `json:"record"`
	ClusterID int            `json:"cluster_id"`
	Persona   Persona        `json:"persona"`
}

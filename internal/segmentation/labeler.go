package segmentation

import (
	"sort"

	"github.com/ignite/persona-segmentation/internal/domain"
)

// ClusterStats summarizes one cluster of the current batch.
type ClusterStats struct {
	ClusterID   int            `json:"cluster_id"`
	Size        int            `json:"size"`
	MeanIncome  float64        `json:"mean_income"`
	MeanBalance float64        `json:"mean_balance"`
	MeanAge     float64        `json:"mean_age,omitempty"`
	Persona     domain.Persona `json:"persona"`
}

// Labeling is the result of ranking a batch's clusters onto personas.
type Labeling struct {
	Records []domain.LabeledRecord `json:"-"`
	// Clusters is sorted ascending by (mean income, mean balance).
	Clusters []ClusterStats `json:"clusters"`
}

// PersonaOf returns the persona assigned to a cluster in this batch.
func (l *Labeling) PersonaOf(clusterID int) (domain.Persona, bool) {
	for _, c := range l.Clusters {
		if c.ClusterID == clusterID {
			return c.Persona, true
		}
	}
	return "", false
}

// Label assigns every record the persona of its cluster. Clusters are ranked
// by mean income, then mean balance, then cluster id, and zipped with the
// persona ladder lowest tier first. Fewer clusters than personas uses a prefix
// of the ladder; more clusters than personas is a LabelingError.
func Label(records []domain.CustomerRecord, clusterIDs []int, personas []domain.Persona) (*Labeling, error) {
	if len(records) != len(clusterIDs) {
		return nil, &LabelingError{Err: ErrLengthMismatch, Clusters: len(clusterIDs), Personas: len(personas)}
	}

	stats := RankClusters(records, clusterIDs)
	if len(stats) > len(personas) {
		return nil, &LabelingError{Err: ErrTooManyClusters, Clusters: len(stats), Personas: len(personas)}
	}

	byCluster := make(map[int]domain.Persona, len(stats))
	for i := range stats {
		stats[i].Persona = personas[i]
		byCluster[stats[i].ClusterID] = personas[i]
	}

	out := make([]domain.LabeledRecord, len(records))
	for i, rec := range records {
		out[i] = domain.LabeledRecord{
			Record:    rec,
			ClusterID: clusterIDs[i],
			Persona:   byCluster[clusterIDs[i]],
		}
	}
	return &Labeling{Records: out, Clusters: stats}, nil
}

// RankClusters computes per-cluster means and returns the clusters sorted
// ascending by (mean income, mean balance). Personas are left empty.
func RankClusters(records []domain.CustomerRecord, clusterIDs []int) []ClusterStats {
	type acc struct {
		n               int
		income, balance float64
		age             float64
		ageN            int
	}
	sums := make(map[int]*acc)
	for i, rec := range records {
		id := clusterIDs[i]
		a, ok := sums[id]
		if !ok {
			a = &acc{}
			sums[id] = a
		}
		a.n++
		a.income += rec.Attributes[FieldIncome]
		a.balance += rec.Attributes[FieldBalance]
		if age, ok := rec.Attribute(FieldAge); ok {
			a.age += age
			a.ageN++
		}
	}

	stats := make([]ClusterStats, 0, len(sums))
	for id, a := range sums {
		s := ClusterStats{
			ClusterID:   id,
			Size:        a.n,
			MeanIncome:  a.income / float64(a.n),
			MeanBalance: a.balance / float64(a.n),
		}
		if a.ageN > 0 {
			s.MeanAge = a.age / float64(a.ageN)
		}
		stats = append(stats, s)
	}

	sort.Slice(stats, func(i, j int) bool {
		a, b := stats[i], stats[j]
		if a.MeanIncome != b.MeanIncome {
			return a.MeanIncome < b.MeanIncome
		}
		if a.MeanBalance != b.MeanBalance {
			return a.MeanBalance < b.MeanBalance
		}
		return a.ClusterID < b.ClusterID
	})
	return stats
}

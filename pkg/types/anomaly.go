package types

import "fmt"

// AnomalyKind classifies a non-fatal data-quality finding.
type AnomalyKind string

const (
	AnomalyOrphanedAttribute     AnomalyKind = "orphaned_attribute"
	AnomalyDuplicateAttributeTag AnomalyKind = "duplicate_attribute_tag"
	AnomalyReferenceCycle        AnomalyKind = "reference_cycle"
	AnomalyZeroScale             AnomalyKind = "zero_scale"
	AnomalyUnknownXDataKey       AnomalyKind = "unknown_xdata_key"
	AnomalyDepthExceeded         AnomalyKind = "depth_exceeded"
)

// Anomaly records a data-quality issue found during parsing or collection.
// Anomalies accompany otherwise-valid results; they never abort a file.
type Anomaly struct {
	Kind   AnomalyKind
	File   string // Source file the finding belongs to
	Block  string // Block name, when the finding is block-scoped
	Detail string
	Handle string // Entity handle, when known
}

func (a Anomaly) String() string {
	if a.Block != "" {
		return fmt.Sprintf("%s: %s [%s block=%s]", a.Kind, a.Detail, a.File, a.Block)
	}
	return fmt.Sprintf("%s: %s [%s]", a.Kind, a.Detail, a.File)
}

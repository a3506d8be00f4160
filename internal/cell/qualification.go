package cell

// Qualification is the view-qualification state of one binding.
type Qualification int

const (
	// QualIdle: the binding has not been active yet.
	QualIdle Qualification = iota
	// QualPending: the qualification timer is running.
	QualPending
	// QualQualified: the view was reported. Terminal for the binding.
	QualQualified
	// QualCancelled: the cell went inactive before the threshold.
	// Reactivation starts a fresh timer.
	QualCancelled
)

// String returns the state name.
func (q Qualification) String() string {
	switch q {
	case QualIdle:
		return "idle"
	case QualPending:
		return "pending"
	case QualQualified:
		return "qualified"
	case QualCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

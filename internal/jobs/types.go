package jobs

type JobType string

const (
	JobOrderConfirmation JobType = "order.confirmation"
)

func (t JobType) IsValid() bool {
	switch t {
	case JobOrderConfirmation:
		return true
	default:
		return false
	}
}

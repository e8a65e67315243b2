package model

// Status is the advisory workflow state of an assignment.
type Status string

const (
	StatusDesign         Status = "Design"
	StatusReview         Status = "Review"
	StatusImplementation Status = "Implementation"
	StatusDiscussion     Status = "Discussion"
	StatusWorksOnDev     Status = "Works on dev"
	StatusWorksOnProd    Status = "Works on prod"
)

// DefaultStatus is assigned to newly created groups.
const DefaultStatus = StatusDesign

// Statuses lists every workflow state in display order.
func Statuses() []Status {
	return []Status{
		StatusDesign,
		StatusReview,
		StatusImplementation,
		StatusDiscussion,
		StatusWorksOnDev,
		StatusWorksOnProd,
	}
}

// StatusValues returns Statuses as plain strings, the form used in schema enums.
func StatusValues() []string {
	statuses := Statuses()
	out := make([]string, len(statuses))
	for i, status := range statuses {
		out[i] = string(status)
	}
	return out
}

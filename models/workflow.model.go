package models

// Workflow records the current status and every status reached so far.
type Workflow struct {
	Status   string   `bson:"status" json:"status"`
	Workflow []string `bson:"workflow" json:"workflow"`
}

// Has reports whether step was reached.
func (w Workflow) Has(step string) bool {
	for _, s := range w.Workflow {
		if s == step {
			return true
		}
	}
	return false
}

package rotation

// Sender is one mailbox in the rotation pool.
type Sender struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Status is the per-sender view the schedule endpoint reports.
type Status struct {
	Sender    Sender `json:"sender"`
	SentToday int    `json:"sent_today"`
	Remaining int    `json:"remaining"`
	Day       string `json:"day"`
}

package genqueue

import (
	"strings"

	"outreach-engine/internal/lead"
)

const summaryMaxRunes = 350

// BuildLeadContext flattens a lead and its company into the line-per-fact
// block the generator prompt expects. Empty fields are skipped so the prompt
// never carries blank labels.
func BuildLeadContext(l lead.Lead, c *lead.Company) string {
	var b strings.Builder

	writeLine(&b, "Name", l.FullName())
	writeLine(&b, "Title", l.JobTitle)
	writeLine(&b, "Work email", l.ContactEmail())
	writeLine(&b, "Seniority", l.Seniority)
	writeLine(&b, "Departments", l.Departments)
	writeLine(&b, "Industries", l.Industries)
	writeLine(&b, "Country", l.Country)

	if c != nil {
		writeLine(&b, "Company", c.Name)
		writeLine(&b, "Company industry", c.Industry)
		writeLine(&b, "Stack", c.Technologies)
		if c.EmployeesAmount != "" {
			writeLine(&b, "Size", c.EmployeesAmount+" employees")
		}
	}

	writeLine(&b, "Summary", truncateRunes(l.ProfileSummary, summaryMaxRunes))
	return strings.TrimRight(b.String(), "\n")
}

func writeLine(b *strings.Builder, label, value string) {
	value = strings.TrimSpace(value)
	if value == "" {
		return
	}
	b.WriteString(label)
	b.WriteString(": ")
	b.WriteString(value)
	b.WriteByte('\n')
}

func truncateRunes(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}

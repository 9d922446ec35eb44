package admission

import (
	"fmt"
	"strconv"
	"time"

	"github.com/trezcool/enrol/core/submission"
)

// NewWindow is how long an application counts as new.
const NewWindow = 7 * 24 * time.Hour

// Widget is one overview counter of the admissions dashboard.
type Widget struct {
	Key         string `json:"key"`
	Title       string `json:"title"`
	Value       string `json:"value"`
	Description string `json:"description"`
	Percentage  string `json:"percentage"` // share of all applications, eg "33.33%"
	IsUp        bool   `json:"is_up"`
}

// StatusWidgets counts the applications by status. Applications created less than
// NewWindow before now count as new.
func StatusWidgets(docs []submission.Document, now time.Time) []Widget {
	var newCount, accepted, pending, rejected int
	for _, doc := range docs {
		if !doc.CreatedAt.IsZero() && now.Sub(doc.CreatedAt) < NewWindow {
			newCount++
		}
		switch doc.String(FieldStatus) {
		case StatusAccepted:
			accepted++
		case StatusPending:
			pending++
		case StatusRejected:
			rejected++
		}
	}

	total := len(docs)
	widget := func(key, title, desc string, count int) Widget {
		denom := total
		if denom == 0 {
			denom = 1
		}
		pct := float64(count) / float64(denom) * 100
		return Widget{
			Key:         key,
			Title:       title,
			Value:       strconv.Itoa(count),
			Description: desc,
			Percentage:  fmt.Sprintf("%.2f%%", pct),
			IsUp:        pct > 0,
		}
	}
	return []Widget{
		widget("total", "Total admissions", "Total number of admissions", total),
		widget("new", "New admissions", "New admissions", newCount),
		widget("accepted", "Accepted admissions", "Accepted admissions", accepted),
		widget("pending", "Pending admissions", "Pending admissions", pending),
		widget("rejected", "Rejected admissions", "Rejected admissions", rejected),
	}
}

package enquiry

import (
	"bytes"
	"context"
	"encoding/json"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/trezcool/enrol/core"
	"github.com/trezcool/enrol/core/submission"
)

const (
	// RecentCount is how many enquiries Stats reports as recent.
	RecentCount = 5

	// AllSchools makes Stats summarize the enquiries of every school.
	AllSchools = "*"
)

// Summary is the enquiries dashboard overview.
type Summary struct {
	Total      int                   `json:"total"`
	ByStatus   map[string]int        `json:"by_status"`
	ByPriority map[string]int        `json:"by_priority"`
	BySource   map[string]int        `json:"by_source"`
	Recent     []submission.Document `json:"recent"`
}

// Stats summarizes the enquiries of a school, or of every school for AllSchools.
func Stats(ctx context.Context, reader submission.Reader, school string) (Summary, error) {
	if school == "" {
		return Summary{}, core.NewArgumentError("a school is required")
	}
	docs, err := reader.List(ctx, Collection)
	if err != nil {
		return Summary{}, errors.Wrap(err, "listing enquiries")
	}

	sum := Summary{
		ByStatus:   make(map[string]int, len(Statuses)),
		ByPriority: make(map[string]int, len(Priorities)),
		BySource:   make(map[string]int),
	}
	for _, st := range Statuses {
		sum.ByStatus[st] = 0
	}
	for _, p := range Priorities {
		sum.ByPriority[p] = 0
	}

	var mine []submission.Document
	for _, doc := range docs {
		if school != AllSchools && doc.String(FieldSchool) != school {
			continue
		}
		mine = append(mine, doc)
		if st := doc.String(FieldStatus); st != "" {
			sum.ByStatus[st]++
		}
		if p := doc.String(FieldPriority); p != "" {
			sum.ByPriority[p]++
		}
		if src := doc.String(FieldSource); src != "" {
			sum.BySource[src]++
		}
	}
	sum.Total = len(mine)

	// newest first
	sort.SliceStable(mine, func(i, j int) bool { return mine[i].CreatedAt.After(mine[j].CreatedAt) })
	if len(mine) > RecentCount {
		mine = mine[:RecentCount]
	}
	sum.Recent = mine
	return sum, nil
}

// FollowUps returns the follow-ups recorded on an enquiry document.
func FollowUps(doc submission.Document) ([]FollowUp, error) {
	return decodeFollowUps(doc.Fields[FieldFollowUps])
}

func encodeFollowUps(fus []FollowUp) ([]string, error) {
	out := make([]string, 0, len(fus))
	for _, fu := range fus {
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(fu); err != nil {
			return nil, errors.Wrap(err, "encoding follow-up")
		}
		out = append(out, strings.TrimSuffix(buf.String(), "\n"))
	}
	return out, nil
}

// decodeFollowUps accepts what the stores hand back: nothing, []string or []interface{} of strings.
func decodeFollowUps(v interface{}) ([]FollowUp, error) {
	var raw []string
	switch vv := v.(type) {
	case nil:
		return nil, nil
	case []string:
		raw = vv
	case []interface{}:
		for _, item := range vv {
			s, ok := item.(string)
			if !ok {
				return nil, errors.Errorf("unexpected follow-up element %T", item)
			}
			raw = append(raw, s)
		}
	default:
		return nil, errors.Errorf("unexpected follow-ups value %T", v)
	}

	out := make([]FollowUp, 0, len(raw))
	for i, s := range raw {
		var fu FollowUp
		if err := json.Unmarshal([]byte(s), &fu); err != nil {
			return nil, errors.Wrapf(err, "decoding follow-up %d", i)
		}
		out = append(out, fu)
	}
	return out, nil
}

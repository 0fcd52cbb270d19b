package headhunter

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"github.com/mitchellh/mapstructure"
)

const (
	apiNegotiationPath        = "/negotiations"
	allStatusesExceptArchived = "non_archived"
	// negotiations history is paged like search; more pages are not useful for filtering.
	maxNegotiationPages = 5
)

// ApplyResult is the outcome of a successful POST /negotiations.
type ApplyResult int

const (
	ApplySent ApplyResult = iota + 1
	// ApplyAlreadyApplied means hh.ru already holds a response from this resume.
	ApplyAlreadyApplied
)

func (r ApplyResult) String() string {
	switch r {
	case ApplySent:
		return "sent"
	case ApplyAlreadyApplied:
		return "already_applied"
	default:
		return "unknown"
	}
}

type Negotiations []*Negotiation

type Negotiation struct {
	ID        string
	CreatedAt string `json:"created_at" mapstructure:"created_at"`
	URL       string
	Vacancy   *Vacancy
}

// Apply sends a response with a cover letter. An earlier response to the same vacancy is reported as ApplyAlreadyApplied.
func (c *Client) Apply(ctx context.Context, token, resumeID, vacancyID, message string) (ApplyResult, error) {
	data := map[string]string{
		"resume_id":  resumeID,
		"vacancy_id": vacancyID,
	}
	if message != "" {
		data["message"] = message
	}

	err := c.postFormData(ctx, token, fmt.Sprintf("%s%s", c.APIURL, apiNegotiationPath), data)
	if err == nil {
		return ApplySent, nil
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.HasError("negotiations", "already_applied") {
		return ApplyAlreadyApplied, nil
	}

	return 0, err
}

// GetNegotiations returns the non-archived responses of the token owner.
func (c *Client) GetNegotiations(ctx context.Context, token string) (Negotiations, error) {
	endpoint := fmt.Sprintf("%s%s", c.APIURL, apiNegotiationPath)

	var negotiations Negotiations
	for page := 0; page < maxNegotiationPages; page++ {
		q := url.Values{}
		// We never need our archived negotiations
		q.Add("status", allStatusesExceptArchived)
		q.Add("per_page", strconv.Itoa(perPage))
		q.Add("page", strconv.Itoa(page))

		response, err := c.GetPage(ctx, token, endpoint, q)
		if err != nil {
			return nil, err
		}

		var items Negotiations
		if err := mapstructure.Decode(response.Items, &items); err != nil {
			return nil, err
		}
		negotiations = append(negotiations, items...)

		if response.Page >= response.Pages-1 {
			break
		}
	}

	return negotiations, nil
}

func (n Negotiations) VacanciesIDs() []string {
	ids := make([]string, 0, len(n))

	for _, v := range n {
		if v.Vacancy == nil {
			continue
		}
		ids = append(ids, v.Vacancy.ID)
	}

	return ids
}

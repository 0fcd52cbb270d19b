package headhunter

import (
	"context"
	"fmt"

	"github.com/mitchellh/mapstructure"
)

type Resumes struct {
	Items []*Resume
}

type Resume struct {
	Title string
	ID    string `json:"id,omitempty"`
}

func (c *Client) GetMineResumes(ctx context.Context, token string) (*Resumes, error) {
	response, err := c.GetPage(ctx, token, fmt.Sprintf("%s/resumes/%s", c.APIURL, mineResumeID), nil)
	if err != nil {
		return nil, err
	}

	var resumes []*Resume
	if err = mapstructure.Decode(response.Items, &resumes); err != nil {
		return nil, err
	}

	return &Resumes{
		Items: resumes,
	}, nil
}

func (r *Resumes) Len() int {
	return len(r.Items)
}

func (r *Resumes) Titles() []string {
	titles := make([]string, 0, len(r.Items))

	for _, v := range r.Items {
		titles = append(titles, v.Title)
	}

	return titles
}

// Default returns the resume used for applications: the first one hh.ru lists.
func (r *Resumes) Default() *Resume {
	if r == nil || len(r.Items) == 0 {
		return nil
	}
	return r.Items[0]
}

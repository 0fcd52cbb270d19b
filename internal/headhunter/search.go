package headhunter

import (
	"context"
	"fmt"
	"net/url"
	"reflect"
	"strconv"
)

const (
	SearchPath = "/vacancies"
)

// SearchParams are the query parameters of GET /vacancies.
type SearchParams struct {
	Text string `yaml:"text" mapstructure:"text"`
	// hhparam is custom tag for reflect. Please see below.
	Areas          []int    `hhparam:"area" mapstructure:"areas"`
	OrderBy        string   `yaml:"order_by" mapstructure:"order_by"`
	Employer       uint     `yaml:"employer_id" mapstructure:"employer_id"`
	SearchField    string   `yaml:"search_field" mapstructure:"search_field"`
	Schedules      []string `hhparam:"schedule" mapstructure:"schedules"`
	PerPage        int      `yaml:"per_page" mapstructure:"per_page"`
	Experience     string   `yaml:"experience" mapstructure:"experience"`
	Period         uint     `yaml:"period" mapstructure:"period"`
	Salary         uint     `yaml:"salary" mapstructure:"salary"`
	Currency       string   `yaml:"currency" mapstructure:"currency"`
	OnlyWithSalary bool     `hhparam:"only_with_salary" mapstructure:"only_with_salary"`
}

// SearchPage requests a single page (0-based) of search results.
func (c *Client) SearchPage(ctx context.Context, token string, params *SearchParams, page int) (*VacancyPage, error) {
	p := *params
	// Set per_page max as possible. It should be faster.
	if p.PerPage <= 0 || p.PerPage > perPage {
		p.PerPage = perPage
	}

	q := buildParams(&p)
	q.Set("page", strconv.Itoa(page))

	response, err := c.GetPage(ctx, token, fmt.Sprintf("%s%s", c.APIURL, SearchPath), q)
	if err != nil {
		return nil, err
	}

	items, invalid := decodeVacancies(response.Items)

	return &VacancyPage{
		Items:   items,
		Invalid: invalid,
		Found:   response.Found,
		Page:    response.Page,
		Pages:   response.Pages,
	}, nil
}

func buildParams(params *SearchParams) url.Values {
	q := url.Values{}
	value := reflect.ValueOf(params).Elem()
	fields := reflect.VisibleFields(value.Type())
	for _, field := range fields {
		// Our custom tag is using here.
		key := field.Tag.Get("hhparam")
		if key == "" {
			// Failover to default tag if our tag do not exist.
			key = field.Tag.Get("yaml")
		}
		if key == "" {
			continue
		}

		switch v := value.FieldByIndex(field.Index).Interface().(type) {
		case []int:
			for _, item := range v {
				q.Add(key, strconv.Itoa(item))
			}
		case []string:
			for _, item := range v {
				q.Add(key, item)
			}
		case bool:
			if v {
				q.Set(key, "true")
			}
		default:
			s := fmt.Sprintf("%v", v)
			if s != "" && s != "0" {
				q.Set(key, s)
			}
		}
	}

	return q
}

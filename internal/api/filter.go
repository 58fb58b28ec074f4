package api

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sebas/softphone/internal/history"
	"github.com/sebas/softphone/internal/session"
)

// ParseFilter builds a history filter from query parameters:
//
//	direction=inbound|outbound  remote=<uri>  q=<text>  tag=<t> (repeatable)
//	answered|missed|video=true|false
//	from|to=<RFC3339>
//	sort=time|duration|remote  order=asc|desc  offset=<n>  limit=<n>
func ParseFilter(q url.Values) (history.Filter, error) {
	var f history.Filter

	if v := q.Get("direction"); v != "" {
		d, err := session.ParseDirection(v)
		if err != nil {
			return f, err
		}
		f.Direction = &d
	}
	f.RemoteURI = q.Get("remote")
	f.Search = q.Get("q")
	for _, t := range q["tag"] {
		for _, part := range strings.Split(t, ",") {
			if part = strings.TrimSpace(part); part != "" {
				f.Tags = append(f.Tags, part)
			}
		}
	}

	var err error
	if f.Answered, err = boolParam(q, "answered"); err != nil {
		return f, err
	}
	if f.Missed, err = boolParam(q, "missed"); err != nil {
		return f, err
	}
	if f.Video, err = boolParam(q, "video"); err != nil {
		return f, err
	}
	if f.From, err = timeParam(q, "from"); err != nil {
		return f, err
	}
	if f.To, err = timeParam(q, "to"); err != nil {
		return f, err
	}

	sortBy, ok := history.ParseSortField(q.Get("sort"))
	if !ok {
		return f, fmt.Errorf("invalid sort %q", q.Get("sort"))
	}
	f.SortBy = sortBy

	switch strings.ToLower(q.Get("order")) {
	case "", "asc", "ascending":
		f.Order = history.Ascending
	case "desc", "descending":
		f.Order = history.Descending
	default:
		return f, fmt.Errorf("invalid order %q", q.Get("order"))
	}

	if f.Offset, err = intParam(q, "offset"); err != nil {
		return f, err
	}
	if f.Limit, err = intParam(q, "limit"); err != nil {
		return f, err
	}
	return f, nil
}

func boolParam(q url.Values, name string) (*bool, error) {
	v := q.Get(name)
	if v == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return nil, fmt.Errorf("invalid %s %q", name, v)
	}
	return &b, nil
}

func timeParam(q url.Values, name string) (time.Time, error) {
	v := q.Get(name)
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s %q: want RFC3339", name, v)
	}
	return t, nil
}

func intParam(q url.Values, name string) (int, error) {
	v := q.Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s %q", name, v)
	}
	return n, nil
}

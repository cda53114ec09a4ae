package search

import (
	"strings"

	cErrors "github.com/sci-ndp/ndp-catalog-adapter/errors"
)

// TimeRange is the filter derived from a timestamp expression.
type TimeRange struct {
	FilterQuery string
	Rows        int // Zero when the number of results is not limited.
	Sort        string
}

// ParseTimestamp compiles a timestamp expression:
//
//	t, >t   the nearest record at or after t
//	<t      the nearest record at or before t
//	a/b     records between a and b; either side may be empty
func ParseTimestamp(expr string) (TimeRange, error) {
	parts := strings.Split(expr, "/")
	switch len(parts) {
	case 1:
		t := parts[0]
		if strings.HasPrefix(t, "<") {
			return TimeRange{
				FilterQuery: "timestamp:[* TO " + strings.TrimPrefix(t, "<") + "]",
				Rows:        1,
				Sort:        "timestamp desc",
			}, nil
		}
		return TimeRange{
			FilterQuery: "timestamp:[" + strings.TrimPrefix(t, ">") + " TO *]",
			Rows:        1,
			Sort:        "timestamp asc",
		}, nil
	case 2:
		return TimeRange{
			FilterQuery: "timestamp:[" + orWildcard(parts[0]) + " TO " + orWildcard(parts[1]) + "]",
			Sort:        "timestamp asc",
		}, nil
	}
	return TimeRange{}, cErrors.InvalidInput("timestamp has too many range elements: %q", expr)
}

func orWildcard(s string) string {
	if s == "" {
		return "*"
	}
	return s
}

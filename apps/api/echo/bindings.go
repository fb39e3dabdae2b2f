package echoapi

import (
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/trezcool/masomo-cloud/core"
)

var orderingParam = "ordering"

// Ordering binds the `?ordering=name,-created_at` query parameter.
type Ordering struct {
	Orderings []core.DBOrdering
}

func (ord *Ordering) Bind(ctx echo.Context) {
	val := ctx.QueryParam(orderingParam)
	if val == "" {
		return
	}

	for _, field := range strings.Split(val, ",") {
		field = strings.TrimSpace(field)
		descending := strings.HasPrefix(field, "-")
		if descending {
			field = field[1:] // drop "-"
		}
		if field == "" {
			continue
		}
		ord.Orderings = append(ord.Orderings, core.DBOrdering{Field: field, Ascending: !descending})
	}
}

// boolQueryParam reads a boolean query parameter; def is returned when it is missing or invalid.
func boolQueryParam(ctx echo.Context, name string, def bool) bool {
	b, err := strconv.ParseBool(ctx.QueryParam(name))
	if err != nil {
		return def
	}
	return b
}

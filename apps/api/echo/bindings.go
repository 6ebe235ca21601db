package echoapi

import (
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/trezcool/wastewise/core"
)

var orderingParam = "ordering"

type Ordering struct {
	Orderings []core.DBOrdering
}

// Bind parses "?ordering=name,-relevanceScore" into DB orderings.
// fields maps the accepted API field names to their column; unknown fields are dropped.
func (ord *Ordering) Bind(ctx echo.Context, fields map[string]string) {
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
		column, ok := fields[field]
		if !ok {
			continue
		}
		ord.Orderings = append(ord.Orderings, core.DBOrdering{Field: column, Ascending: !descending})
	}
}

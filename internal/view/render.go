package view

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"orderdesk/internal/model"
)

// Snapshot is what one render shows.
type Snapshot struct {
	Role    model.Role
	Live    bool
	Stale   bool
	Updated time.Time
	Orders  []model.Order
}

func Render(w io.Writer, s Snapshot, now time.Time) error {
	link := "live"
	if !s.Live {
		link = "polling"
	}
	header := fmt.Sprintf("== %s view · %s · %d orders", s.Role, link, len(s.Orders))
	if s.Stale {
		header += " · stale since " + s.Updated.Format(time.TimeOnly)
	}
	if _, err := fmt.Fprintln(w, header); err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ORDER\tSTATUS\tTYPE\tTOTAL\tNEIGHBORHOOD\tMOTOBOY\tAGE")
	for _, o := range s.Orders {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			short(o.ID),
			o.Status,
			o.OrderType,
			o.Total.StringFixed(2),
			dash(o.Neighborhood),
			dash(short(deref(o.MotoboyID))),
			now.Sub(o.CreatedAt).Truncate(time.Second),
		)
	}
	return tw.Flush()
}

func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

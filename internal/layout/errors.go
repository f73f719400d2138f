package layout

import (
	"fmt"
	"strings"
)

// MissingSourceMatchError reports a layout source that matched nothing.
type MissingSourceMatchError struct {
	Distribution string
	Dest         string
	Source       string
}

func (e *MissingSourceMatchError) Error() string {
	return fmt.Sprintf("distribution %q: layout %q: source %q matched nothing", e.Distribution, e.Dest, e.Source)
}

// AmbiguousDestinationError reports multiple items resolved for a
// destination that accepts exactly one. Destinations ending in "/" accept
// any number of items; bare destinations name a single file.
type AmbiguousDestinationError struct {
	Distribution string
	Dest         string
	Items        []string
}

func (e *AmbiguousDestinationError) Error() string {
	return fmt.Sprintf("distribution %q: layout %q names a single file but matched %d items: %s",
		e.Distribution, e.Dest, len(e.Items), strings.Join(e.Items, ", "))
}

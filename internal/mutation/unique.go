package mutation

import (
	"fmt"

	"github.com/roach88/glyph/internal/ir"
)

// CheckUnique verifies unique attributes of every written glyph against
// all visible glyphs of the declaring type and its subtypes. It runs at
// commit so that swaps within one transaction are allowed.
func (e *Executor) CheckUnique() error {
	for _, id := range e.Written() {
		g, _ := e.ov.Glyph(id)
		t, ok := e.reg.Type(g.Type)
		if !ok {
			continue
		}
		for _, decl := range t.Attrs() {
			if !decl.Unique {
				continue
			}
			v := g.Attr(decl.Name)
			if ir.IsNull(v) {
				continue
			}
			for _, sub := range e.reg.Descendants(decl.Owner) {
				for _, other := range e.ov.ByType(sub) {
					if other == id {
						continue
					}
					og, ok := e.ov.Glyph(other)
					if ok && ir.Equal(og.Attr(decl.Name), v) {
						return &ir.Error{
							Kind:    ir.KindValue,
							Message: fmt.Sprintf("duplicate value %s for unique attribute", ir.Format(v)),
							Glyph:   id,
							Type:    t.Name,
							Attr:    decl.Name,
							Details: map[string]string{"conflicts_with": fmt.Sprint(int64(other))},
						}
					}
				}
			}
		}
	}
	return nil
}

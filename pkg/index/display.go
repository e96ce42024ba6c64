package index

import (
	"fmt"
	"io"

	"github.com/olekukonko/tablewriter"
)

// DisplayTo renders the tower structure level by level, topmost row first.
// The bottom level is walked once under lock coupling and the upper rows are
// derived from the collected tower heights, so the rendering is a
// consistent-prefix view just like a dump.
func (ix *Index[K, V]) DisplayTo(w io.Writer) {
	type tower struct {
		cell   string
		height int
	}
	var towers []tower

	ix.header.mtx.Lock()
	top := int(ix.topLevel.Load())
	cur := ix.header
	for next := cur.forward[0]; next != nil; next = cur.forward[0] {
		next.mtx.Lock()
		cur.mtx.Unlock()
		cur = next
		towers = append(towers, tower{cell: fmt.Sprintf("%v:%v", cur.key, cur.value), height: cur.height()})
	}
	cur.mtx.Unlock()

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Level", "Nodes"})
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetAutoWrapText(false)
	for lvl := top; lvl >= 0; lvl-- {
		row := ""
		for _, t := range towers {
			if t.height < lvl {
				continue
			}
			if row != "" {
				row += " "
			}
			row += t.cell
		}
		table.Append([]string{fmt.Sprint(lvl), row})
	}
	table.Render()
}

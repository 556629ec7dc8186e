package lattice

import (
	"bufio"
	"fmt"
	"io"
)

// RenderSlices writes one block per y layer; rows are x, columns are z.
func RenderSlices(w io.Writer, l *Lattice) error {
	bw := bufio.NewWriter(w)
	for y := 0; y < l.r; y++ {
		fmt.Fprintf(bw, "y=%d ===== ===== =====\n", y)
		for x := 0; x < l.r; x++ {
			for z := 0; z < l.r; z++ {
				if l.cells[l.index(Coord{X: x, Y: y, Z: z})] == Full {
					bw.WriteByte('1')
				} else {
					bw.WriteByte('0')
				}
			}
			bw.WriteByte('\n')
		}
	}
	return bw.Flush()
}

package mlsim

// window is a fixed-capacity ring of equal-width rows, oldest first.
// All rows live in one flat slice; head is the slot holding the oldest row.
type window struct {
	data  []float64
	rows  int
	width int
	head  int
	count int
}

func newWindow(rows, width int) *window {
	return &window{data: make([]float64, rows*width), rows: rows, width: width}
}

// push appends row, dropping the oldest row once the window is full
func (w *window) push(row []float64) error {
	if len(row) != w.width {
		return widthError("window row", w.width, len(row))
	}

	slot := (w.head + w.count) % w.rows
	if w.count == w.rows {
		// Full - overwrite the oldest and advance head
		slot = w.head
		w.head = (w.head + 1) % w.rows
	} else {
		w.count++
	}
	copy(w.data[slot*w.width:(slot+1)*w.width], row)
	return nil
}

// full reports whether the window holds exactly its capacity
func (w *window) full() bool {
	return w.count == w.rows
}

// appendFlat appends the rows, oldest to newest, to dst
func (w *window) appendFlat(dst []float64) []float64 {
	for i := range w.count {
		slot := (w.head + i) % w.rows
		dst = append(dst, w.data[slot*w.width:(slot+1)*w.width]...)
	}
	return dst
}

// snapshot returns a copy of the rows, oldest to newest
func (w *window) snapshot() [][]float64 {
	out := make([][]float64, 0, w.count)
	for i := range w.count {
		slot := (w.head + i) % w.rows
		row := make([]float64, w.width)
		copy(row, w.data[slot*w.width:(slot+1)*w.width])
		out = append(out, row)
	}
	return out
}

package recorder

// frame is one H.264 access unit, in AVCC form (4-byte length prefix +
// NAL payload), tagged with the information the split-point algorithm
// and the MP4 box builder both need.
type frame struct {
	data     []byte
	age      int
	isSPS    bool
	isIDR    bool
	complete bool
}

// buffer accumulates frames from some starting age onward. Its age is
// the age of the oldest frame still held, used to compute how much
// pre-roll it currently represents.
type buffer struct {
	frames []frame
}

func newBuffer() *buffer { return &buffer{} }

func (b *buffer) append(f frame) {
	b.frames = append(b.frames, f)
}

// rewind discards every held frame. Invariant: never called mid-frame —
// callers only rewind at a split point, between access units.
func (b *buffer) rewind() {
	b.frames = b.frames[:0]
}

// age is the age of the oldest retained frame, or -1 if empty.
func (b *buffer) age() int {
	if len(b.frames) == 0 {
		return -1
	}
	return b.frames[0].age
}

func (b *buffer) empty() bool { return len(b.frames) == 0 }

package narration

import (
	"bytes"
	"fmt"
	"sync"
	"time"
)

// Assembler re-sequences outcomes that arrive in any order into a single
// PCM stream. The first failure in sequence order is sticky: once the cursor
// reaches it the assembler stops accepting work and discards what is
// buffered.
type Assembler struct {
	mu         sync.Mutex
	gap        time.Duration
	next       int
	total      int
	pending    map[int]Outcome
	out        bytes.Buffer
	sampleRate int
	channels   int
	err        error
}

// NewAssembler returns an assembler that inserts gap of silence between
// consecutive non-empty segments.
func NewAssembler(gap time.Duration) *Assembler {
	return &Assembler{gap: gap, total: -1, pending: make(map[int]Outcome)}
}

// Add delivers one outcome. It returns the failure that stopped assembly, if
// the cursor has reached one.
func (a *Assembler) Add(o Outcome) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.err != nil {
		return a.err
	}
	if o.Seq < a.next {
		return fmt.Errorf("duplicate outcome for sequence %d", o.Seq)
	}
	if _, dup := a.pending[o.Seq]; dup {
		return fmt.Errorf("duplicate outcome for sequence %d", o.Seq)
	}
	if a.total >= 0 && o.Seq >= a.total {
		return fmt.Errorf("outcome for sequence %d beyond final sequence %d", o.Seq, a.total-1)
	}
	a.pending[o.Seq] = o
	a.drain()
	return a.err
}

// Seal records how many paragraphs the run produced.
func (a *Assembler) Seal(total int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if total < a.next {
		return fmt.Errorf("seal at %d below assembled cursor %d", total, a.next)
	}
	for seq := range a.pending {
		if seq >= total {
			return fmt.Errorf("seal at %d with buffered sequence %d", total, seq)
		}
	}
	a.total = total
	return nil
}

// Done reports whether every sequence through the sealed total has been
// appended.
func (a *Assembler) Done() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.err == nil && a.total >= 0 && a.next == a.total
}

// Err returns the sticky failure, if any.
func (a *Assembler) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.err
}

// LastCompleted is the highest sequence appended to the output, or -1.
func (a *Assembler) LastCompleted() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.next - 1
}

// Pending is the number of out-of-order outcomes being held.
func (a *Assembler) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}

// Bytes returns the assembled PCM. The slice is owned by the assembler and
// must not be modified.
func (a *Assembler) Bytes() []byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.out.Bytes()
}

// Format returns the sample rate and channel count of the first segment.
func (a *Assembler) Format() (sampleRate, channels int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sampleRate, a.channels
}

func (a *Assembler) drain() {
	for {
		o, ok := a.pending[a.next]
		if !ok {
			return
		}
		delete(a.pending, a.next)
		if o.Err != nil {
			a.err = o.Err
			a.pending = make(map[int]Outcome)
			return
		}
		a.append(o.Segment)
		a.next++
	}
}

func (a *Assembler) append(seg Segment) {
	if len(seg.PCM) == 0 {
		return
	}
	if a.sampleRate == 0 {
		a.sampleRate = seg.SampleRate
		a.channels = seg.Channels
	}
	if a.out.Len() > 0 && a.gap > 0 {
		a.out.Write(silence(a.gap, a.sampleRate, a.channels))
	}
	a.out.Write(seg.PCM)
}

func silence(d time.Duration, sampleRate, channels int) []byte {
	if sampleRate <= 0 || channels <= 0 {
		return nil
	}
	frames := int(d.Seconds() * float64(sampleRate))
	return make([]byte, frames*channels*2)
}

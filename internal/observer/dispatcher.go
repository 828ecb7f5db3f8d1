package observer

import "sync"

// Dispatcher runs posted functions one at a time, in posting order, on its
// own goroutine. Posting never blocks.
type Dispatcher struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []func()
	closed bool
	done   chan struct{}
}

func NewDispatcher() *Dispatcher {
	d := &Dispatcher{done: make(chan struct{})}
	d.cond = sync.NewCond(&d.mu)
	go d.run()
	return d
}

// Post queues f. It reports false once the Dispatcher is closed.
func (d *Dispatcher) Post(f func()) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return false
	}
	d.queue = append(d.queue, f)
	d.cond.Signal()
	return true
}

// Flush blocks until everything posted before it has run. It must not be
// called from a posted function.
func (d *Dispatcher) Flush() {
	ran := make(chan struct{})
	if d.Post(func() { close(ran) }) {
		<-ran
	}
}

// Close stops accepting work; queued functions still run. Done is closed
// when the last one returns.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.cond.Signal()
	d.mu.Unlock()
}

func (d *Dispatcher) Done() <-chan struct{} {
	return d.done
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for {
		d.mu.Lock()
		for len(d.queue) == 0 && !d.closed {
			d.cond.Wait()
		}
		if len(d.queue) == 0 {
			d.mu.Unlock()
			return
		}
		f := d.queue[0]
		d.queue[0] = nil
		d.queue = d.queue[1:]
		d.mu.Unlock()

		f()
	}
}

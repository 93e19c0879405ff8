package export

import (
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/strukt-lab/trussopt/internal/logging"
	"github.com/strukt-lab/trussopt/internal/phys"
)

// Worker runs STL exports in the background. It receives an immutable
// bar snapshot at submission and owns the polygonizer. Cancellation is
// cooperative: the abort flag is checked between the three phases, and
// any in-flight phase runs to completion. An I/O failure aborts
// silently; the simulation state is unaffected.
type Worker struct {
	dir   string
	sides int

	abort atomic.Bool
	wg    sync.WaitGroup
}

func NewWorker(dir string, sides int) *Worker {
	if sides <= 0 {
		sides = 32
	}
	return &Worker{dir: dir, sides: sides}
}

// Submit schedules one export. The snapshot must not be mutated after
// submission.
func (w *Worker) Submit(data BarData, resolution, diameter float64, path string) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		p := NewPolygonizer(data, resolution, diameter, w.sides)

		p.InitBaseSegments()
		if w.abort.Load() {
			return
		}
		p.CalculatePolygon()
		if w.abort.Load() {
			return
		}
		if err := p.WriteSTL(path); err != nil {
			return
		}
		logging.Logf("exported %s", path)
	}()
}

// Abort requests cancellation of in-flight exports.
func (w *Worker) Abort() { w.abort.Store(true) }

// Wait blocks until all submitted exports finish or abort.
func (w *Worker) Wait() { w.wg.Wait() }

// Export implements the driver's stop hook: snapshot the simulation and
// export it with a timestamped filename.
func (w *Worker) Export(s *phys.Simulation) {
	diam := 0.0
	if len(s.Springs) > 0 {
		diam = s.Springs[0].Diam
	}
	w.Submit(Snapshot(s), diam*0.5, diam, filepath.Join(w.dir, Filename(time.Now())))
}

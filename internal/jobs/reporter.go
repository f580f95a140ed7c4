package jobs

import (
	"io"
	"time"

	"github.com/dmitrijs2005/mediakeeper/internal/common"
	"github.com/dmitrijs2005/mediakeeper/internal/models"
)

// Reporter is handed to a job body. Bodies call Checkpoint between units of
// work and stop with its error once the job was cancelled.
type Reporter struct {
	o *Orchestrator
	r *run
}

// JobID returns the id of the running job.
func (rp *Reporter) JobID() string { return rp.r.id }

// Checkpoint returns common.ErrCancelled once Cancel was called for the job.
func (rp *Reporter) Checkpoint() error {
	if rp.r.cancelRequested() {
		return common.ErrCancelled
	}
	return nil
}

// Report replaces the progress of the job. When Percent is zero it is derived
// from the byte totals, or the item totals when no byte total is set. ETA is
// derived from the elapsed time when the body leaves it empty.
func (rp *Reporter) Report(p models.Progress) {
	rp.update(func(cur *models.Progress) { *cur = p })
}

// Note sets the free-text note of the progress record.
func (rp *Reporter) Note(note string) {
	rp.update(func(cur *models.Progress) { cur.Note = note })
}

// Item marks the start of item i (zero-based) of total.
func (rp *Reporter) Item(i, total int, name string) {
	rp.update(func(cur *models.Progress) {
		cur.ItemsDone = i
		cur.ItemsTotal = total
		cur.CurrentItem = name
		cur.Percent = 0
	})
}

// AddBytes adds n transferred bytes.
func (rp *Reporter) AddBytes(n int64) {
	rp.update(func(cur *models.Progress) {
		cur.BytesDone += n
		cur.Percent = 0
	})
}

// AddBytesTotal grows the expected byte total.
func (rp *Reporter) AddBytesTotal(n int64) {
	rp.update(func(cur *models.Progress) {
		cur.BytesTotal += n
		cur.Percent = 0
	})
}

// Progress returns the current progress record.
func (rp *Reporter) Progress() models.Progress {
	rp.r.mu.Lock()
	defer rp.r.mu.Unlock()
	return rp.r.job.Progress
}

func (rp *Reporter) update(fn func(*models.Progress)) {
	now := rp.o.now()
	rp.r.mu.Lock()
	if rp.r.job.Status.Terminal() {
		rp.r.mu.Unlock()
		return
	}
	p := &rp.r.job.Progress
	explicitETA := p.ETA
	fn(p)
	derive(p, rp.r.job.StartedAt, now, explicitETA)
	due := now.Sub(rp.r.savedAt) >= rp.o.progressEvery
	rp.r.mu.Unlock()

	if due {
		rp.o.persist(rp.r, false)
	}
}

func derive(p *models.Progress, started, now time.Time, prevETA time.Duration) {
	if p.Percent == 0 {
		switch {
		case p.BytesTotal > 0:
			p.Percent = 100 * float64(p.BytesDone) / float64(p.BytesTotal)
		case p.ItemsTotal > 0:
			p.Percent = 100 * float64(p.ItemsDone) / float64(p.ItemsTotal)
		}
	}
	p.Percent = min(max(p.Percent, 0), 99.9)
	if (p.ETA == 0 || p.ETA == prevETA) && p.Percent > 0 && !started.IsZero() {
		elapsed := now.Sub(started)
		p.ETA = time.Duration(float64(elapsed) * (100 - p.Percent) / p.Percent).Truncate(time.Millisecond)
	}
}

// ProgressReader counts bytes read through it into the job progress and
// checkpoints before every chunk, so a cancelled transfer stops at the next
// chunk boundary.
type ProgressReader struct {
	r   io.Reader
	rep *Reporter
	n   int64
}

// Reader wraps r. The caller adds the expected size with AddBytesTotal.
func (rp *Reporter) Reader(r io.Reader) *ProgressReader {
	return &ProgressReader{r: r, rep: rp}
}

func (pr *ProgressReader) Read(b []byte) (int, error) {
	if err := pr.rep.Checkpoint(); err != nil {
		return 0, err
	}
	n, err := pr.r.Read(b)
	if n > 0 {
		pr.n += int64(n)
		pr.rep.AddBytes(int64(n))
	}
	return n, err
}

// N returns the bytes read so far.
func (pr *ProgressReader) N() int64 { return pr.n }

package etl

import (
	"time"
)

// Phase is the orchestrator state.
type Phase string

const (
	PhaseIdle         Phase = "idle"
	PhaseScanning     Phase = "scanning"
	PhaseLoading      Phase = "loading"
	PhaseTransforming Phase = "transforming"
	PhasePublishing   Phase = "publishing"
	PhaseStopped      Phase = "stopped"
)

// IndexStats tracks the progress of one index
type IndexStats struct {
	Watermark          time.Time `json:"watermark"`
	LastPassAt         time.Time `json:"last_pass_at"`
	DocumentsPublished int64     `json:"documents_published"`
	ChunksPublished    int64     `json:"chunks_published"`
	Errors             int64     `json:"errors"`
	LastError          string    `json:"last_error,omitempty"`
}

// Stats is a snapshot of the orchestrator state
type Stats struct {
	Phase        Phase                 `json:"phase"`
	CurrentIndex string                `json:"current_index,omitempty"`
	PassID       string                `json:"pass_id,omitempty"`
	Passes       int64                 `json:"passes"`
	StartedAt    time.Time             `json:"started_at"`
	Indexes      map[string]IndexStats `json:"indexes"`
}

func newStats(pipelines []Pipeline, now time.Time) Stats {
	s := Stats{
		Phase:     PhaseIdle,
		StartedAt: now,
		Indexes:   make(map[string]IndexStats, len(pipelines)),
	}
	for _, p := range pipelines {
		s.Indexes[p.Index()] = IndexStats{}
	}
	return s
}

// Stats returns a copy of the current state.
func (o *Orchestrator) Stats() Stats {
	o.mu.RLock()
	defer o.mu.RUnlock()

	s := o.stats
	s.Indexes = make(map[string]IndexStats, len(o.stats.Indexes))
	for k, v := range o.stats.Indexes {
		s.Indexes[k] = v
	}
	return s
}

func (o *Orchestrator) setPhase(phase Phase, index, passID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stats.Phase = phase
	o.stats.CurrentIndex = index
	o.stats.PassID = passID
}

func (o *Orchestrator) recordChunk(index string, documents int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	s := o.stats.Indexes[index]
	s.ChunksPublished++
	s.DocumentsPublished += int64(documents)
	o.stats.Indexes[index] = s
}

func (o *Orchestrator) recordPass(index string, watermark time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()
	s := o.stats.Indexes[index]
	s.Watermark = watermark
	s.LastPassAt = o.now()
	s.LastError = ""
	o.stats.Indexes[index] = s
}

func (o *Orchestrator) recordError(index string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	s := o.stats.Indexes[index]
	s.Errors++
	s.LastError = err.Error()
	o.stats.Indexes[index] = s
}

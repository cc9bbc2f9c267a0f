package audit

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/driftmc/driftsync/pkg/host"
	"github.com/driftmc/driftsync/pkg/log"
	"github.com/google/uuid"
)

// Worker audits players' containers. A full pass runs on the rescan
// interval; single players are re-audited on demand after container
// mutations.
type Worker struct {
	runtime        host.Runtime
	action         Action
	opts           ScanOptions
	rescanInterval time.Duration
	requestChan    <-chan uuid.UUID
	cleanupOnStart bool

	logMu   sync.Mutex
	logPath string
}

type NewWorkerOptions struct {
	Runtime        host.Runtime
	Action         Action
	TagKind        string
	MaxStackSize   int
	RescanInterval time.Duration
	RequestChan    <-chan uuid.UUID
	CleanupOnStart bool
	AuditLogPath   string
}

// NewWorker creates a new audit Worker.
func NewWorker(opts NewWorkerOptions) *Worker {
	return &Worker{
		runtime: opts.Runtime,
		action:  opts.Action,
		opts: ScanOptions{
			TagKind:      opts.TagKind,
			MaxStackSize: opts.MaxStackSize,
		},
		rescanInterval: opts.RescanInterval,
		requestChan:    opts.RequestChan,
		cleanupOnStart: opts.CleanupOnStart,
		logPath:        opts.AuditLogPath,
	}
}

func (w *Worker) Start(ctx context.Context) {
	if w.cleanupOnStart {
		w.cleanupAll()
	}

	var tick <-chan time.Time
	if w.rescanInterval > 0 {
		ticker := time.NewTicker(w.rescanInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case id := <-w.requestChan:
			w.AuditPlayer(id)
		case <-tick:
			w.AuditAll()
		}
	}
}

func (w *Worker) cleanupAll() {
	err := w.runtime.RunSync(func() {
		for _, p := range w.runtime.Players() {
			if n := CleanupStaleTags(p.Containers(), w.opts.TagKind); n > 0 {
				log.Info("stripped %d stale identity tags from %s", n, p.Name())
			}
		}
	})
	if err != nil {
		log.Error("stale tag cleanup failed: %v", err)
	}
}

// AuditAll audits every online player.
func (w *Worker) AuditAll() {
	var handles []host.PlayerHandle
	err := w.runtime.RunSync(func() {
		handles = w.runtime.Players()
	})
	if err != nil {
		log.Error("audit pass failed: %v", err)
		return
	}
	for _, p := range handles {
		w.auditHandle(p.ID())
	}
}

// AuditPlayer audits one player if they are online.
func (w *Worker) AuditPlayer(id uuid.UUID) {
	w.auditHandle(id)
}

func (w *Worker) auditHandle(id uuid.UUID) {
	var findings []Finding
	var name string
	err := w.runtime.RunSync(func() {
		p, ok := w.runtime.Player(id)
		if !ok {
			return
		}
		name = p.Name()
		containers := p.Containers()

		// Tag untagged stacks of the watched kind first. A later scan
		// that sees one tag in two slots has proof of duplication.
		if w.opts.TagKind != "" {
			for _, c := range containers {
				for i, s := range c.Slots() {
					if s.IsEmpty() {
						continue
					}
					cp := s.Copy()
					if EnsureTag(cp, w.opts.TagKind) {
						c.SetSlot(i, cp)
					}
				}
			}
		}

		findings = Scan(containers, w.opts)
		if len(findings) == 0 {
			return
		}
		removed := Remediate(p, containers, findings, w.action, w.opts)
		if removed > 0 {
			log.Warn("audit removed %d duplicated items from %s", removed, name)
		}
	})
	if err != nil {
		log.Error("audit of %s failed: %v", id, err)
		return
	}
	if len(findings) > 0 {
		w.record(id, name, findings)
	}
}

type auditRecord struct {
	Time     time.Time `json:"time"`
	PlayerID uuid.UUID `json:"player_id"`
	Name     string    `json:"name"`
	Action   string    `json:"action"`
	Findings []Finding `json:"findings"`
}

// record appends the findings to the audit log as one JSON line.
func (w *Worker) record(id uuid.UUID, name string, findings []Finding) {
	for _, f := range findings {
		log.Warn("audit: %s holds %d x %s across %d slots (surplus %d)",
			name, f.Total, f.Kind, len(f.Slots), f.Surplus)
	}
	if w.logPath == "" {
		return
	}
	rec := auditRecord{
		Time:     time.Now().UTC(),
		PlayerID: id,
		Name:     name,
		Action:   w.action.String(),
		Findings: findings,
	}
	line, err := json.Marshal(rec)
	if err != nil {
		log.Error("failed to encode audit record: %v", err)
		return
	}
	w.logMu.Lock()
	defer w.logMu.Unlock()
	fh, err := os.OpenFile(w.logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		log.Error("failed to open audit log: %v", err)
		return
	}
	defer fh.Close()
	if _, err := fh.Write(append(line, '\n')); err != nil {
		log.Error("failed to write audit log: %v", err)
	}
}

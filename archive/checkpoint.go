package archive

import (
	"fmt"
	"os"
	"strings"

	"github.com/descore/cascade/clock"
	"github.com/descore/cascade/clockdomain"
)

// FileCheckpointer implements scheduler.Checkpointer by writing each
// checkpoint to namePattern with "%d" substituted by the checkpoint's
// sim_time (spec.md §6 "cascade.CheckpointName"), overwriting on every call
// so only the latest checkpoint is retained unless the caller's pattern
// includes sim_time itself.
type FileCheckpointer struct {
	NamePattern string
	SafeMode    bool
}

// Checkpoint satisfies scheduler.Checkpointer.
func (c FileCheckpointer) Checkpoint(simTime clock.PS, domains []*clockdomain.Domain) error {
	name := c.NamePattern
	if name == "" {
		name = "cascade-%d.ckpt"
	}
	path := name
	if strings.Contains(name, "%d") {
		path = fmt.Sprintf(name, int64(simTime))
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("archive: create checkpoint %s: %w", path, err)
	}
	defer f.Close()

	snap, err := Capture(domains, c.SafeMode)
	if err != nil {
		return fmt.Errorf("archive: capture checkpoint %s: %w", path, err)
	}
	if err := Save(f, snap); err != nil {
		return fmt.Errorf("archive: write checkpoint %s: %w", path, err)
	}
	return nil
}

// LoadFile opens path and restores its checkpoint into domains.
func LoadFile(path string, domains []*clockdomain.Domain) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("archive: open checkpoint %s: %w", path, err)
	}
	defer f.Close()

	snap, err := Load(f)
	if err != nil {
		return fmt.Errorf("archive: load checkpoint %s: %w", path, err)
	}
	return Restore(domains, snap)
}

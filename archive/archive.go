// Package archive implements the checkpoint byte-stream format from
// spec.md §6: a header (magic, version, safe_mode), followed by a
// per-domain body (counters, ring-slot triggers, port storage; the event
// queue and the ring's push/pop lanes are not written), with each
// 1 MiB block independently deflate-compressed via
// github.com/klauspost/compress/flate (spec.md §6 "Compression").
package archive

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"

	"github.com/descore/cascade/clock"
	"github.com/descore/cascade/clockdomain"
	"github.com/descore/cascade/port"
	"github.com/descore/cascade/syncring"
	"github.com/descore/cascade/trigger"
)

const (
	magic     = uint32(0xCA5CADE1)
	version   = float32(1.0)
	blockSize = 1 << 20 // 1 MiB, per spec.md §6.
)

// VersionError is raised at load time on a magic/version/checksum mismatch
// (spec.md §7: "fatal at load time; leaves the simulator in the
// uninitialised state").
type VersionError struct {
	Reason string
}

func (e VersionError) Error() string { return fmt.Sprintf("archive: %s", e.Reason) }

// DomainSnapshot captures everything spec.md §6's body lists for one domain:
// counters, port storage, and the sync ring's pending triggers (ring_slots).
// The ring's push/pop lanes and the domain's event queue (devent.Queue) are
// not captured: neither has a concrete producer anywhere in this module (no
// component implements syncring.Fifo, and nothing calls Queue.Schedule), so
// both are provably empty at every checkpoint boundary this module can
// reach — see DESIGN.md.
type DomainSnapshot struct {
	ID           uint32
	Period       clock.PS
	NextEdge     clock.PS
	NumTicks     uint64
	NumEdges     uint64
	PrevIndex    uint64
	PrevTick     clock.PS
	Ports        []port.Snapshot
	RingIndex    int
	RingTriggers [][]trigger.FiringSnapshot // one slot per ring.Depth(), raw slot order.
}

// Snapshot is the full checkpoint payload (spec.md §6 body).
type Snapshot struct {
	SafeMode bool
	Domains  []DomainSnapshot
}

// Capture builds a Snapshot from a live domain list, in registration order
// (spec.md §6: "number of domains implied by registry order").
func Capture(domains []*clockdomain.Domain, safeMode bool) (Snapshot, error) {
	snap := Snapshot{SafeMode: safeMode, Domains: make([]DomainSnapshot, 0, len(domains))}
	for _, d := range domains {
		ringTriggers, err := captureRingTriggers(d.Ring)
		if err != nil {
			return Snapshot{}, fmt.Errorf("archive: domain %d: %w", d.ID, err)
		}
		snap.Domains = append(snap.Domains, DomainSnapshot{
			ID:           d.ID,
			Period:       d.Period,
			NextEdge:     d.NextEdge,
			NumTicks:     d.NumTicks,
			NumEdges:     d.NumEdges,
			PrevIndex:    d.PrevIndex,
			PrevTick:     d.PrevTick,
			Ports:        d.Storage.Save(),
			RingIndex:    d.Ring.Index(),
			RingTriggers: ringTriggers,
		})
	}
	return snap, nil
}

// captureRingTriggers snapshots every pending delayed firing in ring, in raw
// slot-position order.
func captureRingTriggers(ring *syncring.Ring) ([][]trigger.FiringSnapshot, error) {
	slots := ring.TriggerSlots()
	out := make([][]trigger.FiringSnapshot, len(slots))
	for i, entries := range slots {
		if len(entries) == 0 {
			continue
		}
		firings := make([]trigger.FiringSnapshot, 0, len(entries))
		for _, e := range entries {
			snapper, ok := e.(trigger.Snapshotter)
			if !ok {
				return nil, fmt.Errorf("ring slot %d: entry %T does not implement trigger.Snapshotter", i, e)
			}
			fs, err := snapper.Snapshot()
			if err != nil {
				return nil, fmt.Errorf("ring slot %d: %w", i, err)
			}
			firings = append(firings, fs)
		}
		out[i] = firings
	}
	return out, nil
}

// Restore reloads a previously captured Snapshot into domains, which must
// already exist with matching IDs and port layouts (ports and the trigger
// table are built once at Init; archive only restores their contents).
func Restore(domains []*clockdomain.Domain, snap Snapshot) error {
	byID := make(map[uint32]*clockdomain.Domain, len(domains))
	for _, d := range domains {
		byID[d.ID] = d
	}
	for _, ds := range snap.Domains {
		d, ok := byID[ds.ID]
		if !ok {
			return VersionError{Reason: fmt.Sprintf("snapshot references unknown domain id %d", ds.ID)}
		}
		d.NumTicks = ds.NumTicks
		d.NumEdges = ds.NumEdges
		d.PrevIndex = ds.PrevIndex
		d.PrevTick = ds.PrevTick
		d.NextEdge = ds.NextEdge
		if err := d.Storage.Restore(ds.Ports); err != nil {
			return fmt.Errorf("archive: domain %d: %w", ds.ID, err)
		}
		d.Ring.SetIndex(ds.RingIndex)
		if err := restoreRingTriggers(d, ds.RingTriggers); err != nil {
			return fmt.Errorf("archive: domain %d: %w", ds.ID, err)
		}
	}
	return nil
}

// restoreRingTriggers reconstructs d's pending delayed firings from a
// snapshot taken by captureRingTriggers, binding each one to d's own table
// and ring rather than whatever table/ring produced the snapshot.
func restoreRingTriggers(d *clockdomain.Domain, slots [][]trigger.FiringSnapshot) error {
	if slots == nil {
		return nil
	}
	entries := make([][]syncring.Entry, len(slots))
	for i, firings := range slots {
		if len(firings) == 0 {
			continue
		}
		es := make([]syncring.Entry, 0, len(firings))
		for _, fs := range firings {
			es = append(es, d.Table.RestoreFiring(fs, d.Ring))
		}
		entries[i] = es
	}
	return d.Ring.RestoreTriggerSlots(entries)
}

// Save writes snap to w as the checkpoint byte stream from spec.md §6:
// a header (magic, version, safe_mode), then the body encoded field-by-field
// in independently deflate-compressed, length-prefixed 1 MiB blocks. If
// safeMode is set, every primitive the body encoder writes is preceded by a
// rolling 1-byte checksum that increments by the primitive's size (spec.md
// §6 "detecting store/load schema drift").
func Save(w io.Writer, snap Snapshot) error {
	var body bytes.Buffer
	enc := newChecksumEncoder(&body, snap.SafeMode)
	if err := enc.writeSnapshot(snap); err != nil {
		return fmt.Errorf("archive: encode body: %w", err)
	}

	var header bytes.Buffer
	if err := binary.Write(&header, binary.BigEndian, magic); err != nil {
		return err
	}
	if err := binary.Write(&header, binary.BigEndian, version); err != nil {
		return err
	}
	if err := header.WriteByte(boolByte(snap.SafeMode)); err != nil {
		return err
	}
	if _, err := w.Write(header.Bytes()); err != nil {
		return fmt.Errorf("archive: write header: %w", err)
	}
	return writeBlocks(w, body.Bytes())
}

// Load reads a checkpoint byte stream previously written by Save.
func Load(r io.Reader) (Snapshot, error) {
	var hdrMagic uint32
	var hdrVersion float32
	var safeByte [1]byte
	if err := binary.Read(r, binary.BigEndian, &hdrMagic); err != nil {
		return Snapshot{}, VersionError{Reason: "truncated header (magic)"}
	}
	if hdrMagic != magic {
		return Snapshot{}, VersionError{Reason: "bad magic"}
	}
	if err := binary.Read(r, binary.BigEndian, &hdrVersion); err != nil {
		return Snapshot{}, VersionError{Reason: "truncated header (version)"}
	}
	if hdrVersion != version {
		return Snapshot{}, VersionError{Reason: fmt.Sprintf("unsupported version %v", hdrVersion)}
	}
	if _, err := io.ReadFull(r, safeByte[:]); err != nil {
		return Snapshot{}, VersionError{Reason: "truncated header (safe_mode)"}
	}
	safeMode := safeByte[0] != 0

	body, err := readBlocks(r)
	if err != nil {
		return Snapshot{}, err
	}
	dec := newChecksumDecoder(bytes.NewReader(body), safeMode)
	snap, err := dec.readSnapshot()
	if err != nil {
		return Snapshot{}, fmt.Errorf("archive: decode body: %w", err)
	}
	snap.SafeMode = safeMode
	return snap, nil
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// writeBlocks splits data into blockSize chunks, deflate-compresses each
// independently, and writes each as a 4-byte big-endian length prefix
// followed by the compressed bytes (spec.md §6 "each 1 MiB block is
// deflate-compressed independently and length-prefixed").
func writeBlocks(w io.Writer, data []byte) error {
	for off := 0; off < len(data) || (off == 0 && len(data) == 0); {
		end := off + blockSize
		if end > len(data) {
			end = len(data)
		}
		chunk := data[off:end]
		var compressed bytes.Buffer
		fw, err := flate.NewWriter(&compressed, flate.DefaultCompression)
		if err != nil {
			return err
		}
		if _, err := fw.Write(chunk); err != nil {
			return err
		}
		if err := fw.Close(); err != nil {
			return err
		}
		var lenPrefix [4]byte
		binary.BigEndian.PutUint32(lenPrefix[:], uint32(compressed.Len()))
		if _, err := w.Write(lenPrefix[:]); err != nil {
			return err
		}
		if _, err := w.Write(compressed.Bytes()); err != nil {
			return err
		}
		off = end
		if off >= len(data) {
			break
		}
	}
	return nil
}

func readBlocks(r io.Reader) ([]byte, error) {
	var out bytes.Buffer
	for {
		var lenPrefix [4]byte
		_, err := io.ReadFull(r, lenPrefix[:])
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, VersionError{Reason: "truncated block length prefix"}
		}
		n := binary.BigEndian.Uint32(lenPrefix[:])
		compressed := make([]byte, n)
		if _, err := io.ReadFull(r, compressed); err != nil {
			return nil, VersionError{Reason: "truncated compressed block"}
		}
		fr := flate.NewReader(bytes.NewReader(compressed))
		if _, err := io.Copy(&out, fr); err != nil {
			fr.Close()
			return nil, fmt.Errorf("archive: inflate block: %w", err)
		}
		fr.Close()
	}
	return out.Bytes(), nil
}

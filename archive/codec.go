package archive

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/descore/cascade/clock"
	"github.com/descore/cascade/port"
	"github.com/descore/cascade/trigger"
)

// checksumEncoder/checksumDecoder implement spec.md §6's safe-mode framing:
// every primitive write is preceded by a rolling 1-byte checksum, so a
// schema mismatch between the program that wrote a checkpoint and the one
// loading it is caught at the first drifted field rather than silently
// misreading the rest of the stream. Off safe mode, the checksum byte is
// omitted entirely.
type checksumEncoder struct {
	w    io.Writer
	safe bool
	sum  byte
}

func newChecksumEncoder(w io.Writer, safe bool) *checksumEncoder {
	return &checksumEncoder{w: w, safe: safe}
}

func (e *checksumEncoder) putBytes(b []byte) error {
	if e.safe {
		e.sum += byte(len(b))
		if _, err := e.w.Write([]byte{e.sum}); err != nil {
			return err
		}
	}
	_, err := e.w.Write(b)
	return err
}

func (e *checksumEncoder) putUint64(v uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return e.putBytes(buf[:])
}

func (e *checksumEncoder) putInt64(v int64) error { return e.putUint64(uint64(v)) }

func (e *checksumEncoder) putUint32(v uint32) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	return e.putBytes(buf[:])
}

func (e *checksumEncoder) putInt(v int) error { return e.putInt64(int64(v)) }

func (e *checksumEncoder) putString(s string) error {
	if err := e.putUint32(uint32(len(s))); err != nil {
		return err
	}
	return e.putBytes([]byte(s))
}

func (e *checksumEncoder) putBool(b bool) error { return e.putBytes([]byte{boolByte(b)}) }

func (e *checksumEncoder) writeSnapshot(snap Snapshot) error {
	if err := e.putUint32(uint32(len(snap.Domains))); err != nil {
		return err
	}
	for _, d := range snap.Domains {
		if err := e.writeDomain(d); err != nil {
			return err
		}
	}
	return nil
}

func (e *checksumEncoder) writeDomain(d DomainSnapshot) error {
	for _, step := range []func() error{
		func() error { return e.putUint32(d.ID) },
		func() error { return e.putInt64(int64(d.Period)) },
		func() error { return e.putInt64(int64(d.NextEdge)) },
		func() error { return e.putUint64(d.NumTicks) },
		func() error { return e.putUint64(d.NumEdges) },
		func() error { return e.putUint64(d.PrevIndex) },
		func() error { return e.putInt64(int64(d.PrevTick)) },
		func() error { return e.putInt(d.RingIndex) },
	} {
		if err := step(); err != nil {
			return err
		}
	}
	if err := e.putUint32(uint32(len(d.Ports))); err != nil {
		return err
	}
	for _, p := range d.Ports {
		if err := e.writePort(p); err != nil {
			return err
		}
	}
	return e.writeRingTriggers(d.RingTriggers)
}

// writeRingTriggers encodes the sync ring's pending triggers (spec.md §6
// body: "ring_slots ... triggers"), one slot at a time in raw slot-position
// order, so readRingTriggers can rebuild a [][]trigger.FiringSnapshot of the
// exact same shape.
func (e *checksumEncoder) writeRingTriggers(slots [][]trigger.FiringSnapshot) error {
	if err := e.putUint32(uint32(len(slots))); err != nil {
		return err
	}
	for _, firings := range slots {
		if err := e.putUint32(uint32(len(firings))); err != nil {
			return err
		}
		for _, f := range firings {
			if err := e.writeFiring(f); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *checksumEncoder) writeFiring(f trigger.FiringSnapshot) error {
	if err := e.putInt(int(f.TargetKind)); err != nil {
		return err
	}
	if err := e.putInt(f.RecordIndex); err != nil {
		return err
	}
	if err := e.putUint64(uint64(f.Trigger)); err != nil {
		return err
	}
	if err := e.putUint32(uint32(len(f.Captured))); err != nil {
		return err
	}
	return e.putBytes(f.Captured)
}

func (e *checksumEncoder) writePort(p port.Snapshot) error {
	if err := e.putString(p.Name); err != nil {
		return err
	}
	if err := e.putInt(p.WriteAt); err != nil {
		return err
	}
	if err := e.putUint32(uint32(len(p.Frames))); err != nil {
		return err
	}
	for _, f := range p.Frames {
		if err := e.putUint32(uint32(len(f))); err != nil {
			return err
		}
		if err := e.putBytes(f); err != nil {
			return err
		}
	}
	return nil
}

type checksumDecoder struct {
	r    io.Reader
	safe bool
	sum  byte
}

func newChecksumDecoder(r io.Reader, safe bool) *checksumDecoder {
	return &checksumDecoder{r: r, safe: safe}
}

func (d *checksumDecoder) getBytes(n int) ([]byte, error) {
	if d.safe {
		var got [1]byte
		if _, err := io.ReadFull(d.r, got[:]); err != nil {
			return nil, err
		}
		d.sum += byte(n)
		if got[0] != d.sum {
			return nil, VersionError{Reason: fmt.Sprintf("checksum mismatch: got %d want %d (schema drift)", got[0], d.sum)}
		}
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(d.r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (d *checksumDecoder) getUint64() (uint64, error) {
	b, err := d.getBytes(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

func (d *checksumDecoder) getInt64() (int64, error) {
	v, err := d.getUint64()
	return int64(v), err
}

func (d *checksumDecoder) getUint32() (uint32, error) {
	b, err := d.getBytes(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (d *checksumDecoder) getInt() (int, error) {
	v, err := d.getInt64()
	return int(v), err
}

func (d *checksumDecoder) getString() (string, error) {
	n, err := d.getUint32()
	if err != nil {
		return "", err
	}
	b, err := d.getBytes(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (d *checksumDecoder) readSnapshot() (Snapshot, error) {
	n, err := d.getUint32()
	if err != nil {
		return Snapshot{}, err
	}
	snap := Snapshot{Domains: make([]DomainSnapshot, 0, n)}
	for i := uint32(0); i < n; i++ {
		ds, err := d.readDomain()
		if err != nil {
			return Snapshot{}, err
		}
		snap.Domains = append(snap.Domains, ds)
	}
	return snap, nil
}

func (d *checksumDecoder) readDomain() (DomainSnapshot, error) {
	var ds DomainSnapshot
	id, err := d.getUint32()
	if err != nil {
		return ds, err
	}
	period, err := d.getInt64()
	if err != nil {
		return ds, err
	}
	nextEdge, err := d.getInt64()
	if err != nil {
		return ds, err
	}
	numTicks, err := d.getUint64()
	if err != nil {
		return ds, err
	}
	numEdges, err := d.getUint64()
	if err != nil {
		return ds, err
	}
	prevIndex, err := d.getUint64()
	if err != nil {
		return ds, err
	}
	prevTick, err := d.getInt64()
	if err != nil {
		return ds, err
	}
	ringIndex, err := d.getInt()
	if err != nil {
		return ds, err
	}
	nPorts, err := d.getUint32()
	if err != nil {
		return ds, err
	}
	ports := make([]port.Snapshot, 0, nPorts)
	for i := uint32(0); i < nPorts; i++ {
		p, err := d.readPort()
		if err != nil {
			return ds, err
		}
		ports = append(ports, p)
	}
	ringTriggers, err := d.readRingTriggers()
	if err != nil {
		return ds, err
	}
	ds.ID = id
	ds.Period = clock.PS(period)
	ds.NextEdge = clock.PS(nextEdge)
	ds.NumTicks = numTicks
	ds.NumEdges = numEdges
	ds.PrevIndex = prevIndex
	ds.PrevTick = clock.PS(prevTick)
	ds.RingIndex = ringIndex
	ds.Ports = ports
	ds.RingTriggers = ringTriggers
	return ds, nil
}

func (d *checksumDecoder) readRingTriggers() ([][]trigger.FiringSnapshot, error) {
	nSlots, err := d.getUint32()
	if err != nil {
		return nil, err
	}
	slots := make([][]trigger.FiringSnapshot, nSlots)
	for i := uint32(0); i < nSlots; i++ {
		nFirings, err := d.getUint32()
		if err != nil {
			return nil, err
		}
		if nFirings == 0 {
			continue
		}
		firings := make([]trigger.FiringSnapshot, 0, nFirings)
		for j := uint32(0); j < nFirings; j++ {
			f, err := d.readFiring()
			if err != nil {
				return nil, err
			}
			firings = append(firings, f)
		}
		slots[i] = firings
	}
	return slots, nil
}

func (d *checksumDecoder) readFiring() (trigger.FiringSnapshot, error) {
	kind, err := d.getInt()
	if err != nil {
		return trigger.FiringSnapshot{}, err
	}
	recordIndex, err := d.getInt()
	if err != nil {
		return trigger.FiringSnapshot{}, err
	}
	triggerID, err := d.getUint64()
	if err != nil {
		return trigger.FiringSnapshot{}, err
	}
	n, err := d.getUint32()
	if err != nil {
		return trigger.FiringSnapshot{}, err
	}
	captured, err := d.getBytes(int(n))
	if err != nil {
		return trigger.FiringSnapshot{}, err
	}
	return trigger.FiringSnapshot{
		TargetKind:  trigger.TargetKind(kind),
		RecordIndex: recordIndex,
		Trigger:     trigger.TriggerID(triggerID),
		Captured:    captured,
	}, nil
}

func (d *checksumDecoder) readPort() (port.Snapshot, error) {
	name, err := d.getString()
	if err != nil {
		return port.Snapshot{}, err
	}
	writeAt, err := d.getInt()
	if err != nil {
		return port.Snapshot{}, err
	}
	nFrames, err := d.getUint32()
	if err != nil {
		return port.Snapshot{}, err
	}
	frames := make([][]byte, 0, nFrames)
	for i := uint32(0); i < nFrames; i++ {
		fn, err := d.getUint32()
		if err != nil {
			return port.Snapshot{}, err
		}
		f, err := d.getBytes(int(fn))
		if err != nil {
			return port.Snapshot{}, err
		}
		frames = append(frames, f)
	}
	return port.Snapshot{Name: name, WriteAt: writeAt, Frames: frames}, nil
}

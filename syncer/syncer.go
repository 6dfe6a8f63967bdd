// Package syncer implements the Syncer background worker (spec.md
// §4.5): one per SampleFileDir, it durably syncs just-closed
// recordings, commits metadata, plans and coalesces flushes, drives
// retention rotation, and reclaims garbage files.
package syncer

import (
	"container/heap"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/nvrstore/recstore/clock"
	"github.com/nvrstore/recstore/dir"
	"github.com/nvrstore/recstore/recfmt"
	"github.com/nvrstore/recstore/retention"
	"github.com/nvrstore/recstore/store"
)

// neverDue is used as the bounded-receive timeout when no flush is
// planned; it is large enough that a real timer never legitimately
// fires but small enough to hand to time.NewTimer without overflow.
const neverDue = 365 * 24 * time.Hour

// StreamConfig is one stream's retention budget and flush-coalescing
// window, as tracked by the Syncer that owns its directory.
type StreamConfig struct {
	RetainBytes int64
	FlushIfSec  int64
}

// Config configures a Syncer. Dir, DirID, Store and Clocks are
// required. The streams map passed to New lists every stream whose
// files live in Dir; a file
// for an unlisted stream is left untouched by the startup abandoned-
// file scan (spec.md §4.5 step 1: "Unknown-stream files are ignored").
type Config struct {
	Dir    *dir.SampleFileDir
	DirID  uint32
	Store  store.Store
	Clocks clock.Clocks
	Round  retention.RoundUp

	// ChannelCapacity bounds the command channel (spec.md §9, resolving
	// the "no back-pressure" open question with a bounded, blocking-send
	// channel). Defaults to 64.
	ChannelCapacity int
}

// cmdKind distinguishes the messages the main loop (iter) accepts on
// its command channel.
type cmdKind int

const (
	cmdAsyncSaveRecording cmdKind = iota
	cmdDatabaseFlushed
	cmdFlushNow // test-only round-trip hook
)

type cmd struct {
	kind cmdKind

	id               recfmt.CompositeId
	totalDuration90k int64
	file             *os.File

	flushSender chan<- struct{}
}

// Syncer is the background worker for one SampleFileDir. It is not
// safe for concurrent use of its non-channel methods; AsyncSaveRecording
// is the one method meant to be called from other goroutines (Writers).
type Syncer struct {
	cfg     Config
	streams map[uint32]*StreamConfig

	cmds chan any
	pfh  plannedFlushHeap

	done chan struct{}
}

// New creates a Syncer for cfg and runs the synchronous initial
// rotation (spec.md §4.5 "Initial rotation") before returning. Call Run
// in its own goroutine afterward to start the background loop.
func New(cfg Config, streams map[uint32]*StreamConfig) (*Syncer, error) {
	if cfg.ChannelCapacity <= 0 {
		cfg.ChannelCapacity = 64
	}

	if cfg.Round == nil {
		cfg.Round = retention.DefaultRoundUp(4096)
	}

	s := &Syncer{
		cfg:     cfg,
		streams: streams,
		cmds:    make(chan any, cfg.ChannelCapacity),
		done:    make(chan struct{}),
	}

	if err := s.initialRotation(); err != nil {
		return nil, err
	}

	return s, nil
}

// initialRotation implements spec.md §4.5's four synchronous startup
// steps: reclaim abandoned files, rotate every known stream to its
// retention budget, flush once, then reclaim whatever that rotation
// produced.
func (s *Syncer) initialRotation() error {
	ids, err := s.cfg.Dir.List()
	if err != nil {
		return fmt.Errorf("syncer startup: list dir: %w", err)
	}

	for _, id := range ids {
		streamID := id.StreamId()

		if _, known := s.streams[streamID]; !known {
			continue
		}

		next, err := s.cfg.Store.NextRecordingID(streamID)
		if err != nil {
			return fmt.Errorf("syncer startup: next recording id for stream %d: %w", streamID, err)
		}

		if id.RecordingId() >= next {
			log.Printf("syncer: unlinking abandoned file %s (stream %d next id %d)", id, streamID, next)
			clock.RetryForeverErr(s.cfg.Clocks, func() error { return s.cfg.Dir.Unlink(id) })
		}
	}

	for streamID, sc := range s.streams {
		if err := retention.Rotate(s.cfg.Store, streamID, sc.RetainBytes, 0, s.cfg.Round); err != nil {
			return fmt.Errorf("syncer startup: rotate stream %d: %w", streamID, err)
		}
	}

	if err := s.cfg.Store.Flush("startup rotation"); err != nil {
		return fmt.Errorf("syncer startup: flush: %w", err)
	}

	return s.collectGarbage()
}

// collectGarbage unlinks every file listed in garbage_needs_unlink for
// this directory, tolerating ENOENT, then fsyncs the directory and
// commits the garbage-collected update — the ordering spec.md §4.5
// requires so a crash never leaves a row claiming a file still exists
// when it does not.
func (s *Syncer) collectGarbage() error {
	ids, err := s.cfg.Store.GarbageNeedsUnlink(s.cfg.DirID)
	if err != nil {
		return fmt.Errorf("collect garbage: list: %w", err)
	}

	if len(ids) == 0 {
		return nil
	}

	for _, id := range ids {
		clock.RetryForeverErr(s.cfg.Clocks, func() error {
			err := s.cfg.Dir.Unlink(id)
			if errors.Is(err, os.ErrNotExist) {
				log.Printf("syncer: garbage file %s already gone", id)
				return nil
			}

			return err
		})
	}

	clock.RetryForeverErr(s.cfg.Clocks, s.cfg.Dir.Sync)

	if err := s.cfg.Store.DeleteGarbage(s.cfg.DirID, ids); err != nil {
		return fmt.Errorf("collect garbage: commit: %w", err)
	}

	return nil
}

// AsyncSaveRecording implements writer.SyncerChannel: it hands a
// just-closed recording's file to the Syncer over the bounded command
// channel, blocking the caller if the channel is full (spec.md §9's
// resolution of the back-pressure open question).
func (s *Syncer) AsyncSaveRecording(id recfmt.CompositeId, totalDuration90k int64, f *os.File) {
	s.cmds <- cmd{kind: cmdAsyncSaveRecording, id: id, totalDuration90k: totalDuration90k, file: f}
}

// DatabaseFlushed notifies the Syncer that its store's on-flush hook
// fired — wired as the store.OnFlush callback at construction time by
// the caller that owns the Store, so the callback only ever sends on
// this channel and never re-enters the store (spec.md §9 "Cyclic
// graph").
func (s *Syncer) DatabaseFlushed() {
	s.cmds <- cmd{kind: cmdDatabaseFlushed}
}

// Flush is the test-only round-trip hook (spec.md §5 "Cancellation /
// shutdown"): it asks the loop to attach a channel to the head of the
// planned-flush heap and returns that channel, which is closed when
// that flush fires or is discarded (or at once if no flush is planned).
// A caller blocks by receiving from it.
func (s *Syncer) Flush() <-chan struct{} {
	ch := make(chan struct{})
	s.cmds <- cmd{kind: cmdFlushNow, flushSender: ch}

	return ch
}

// Close clears the store's on-flush callback, so no further flush can
// send DatabaseFlushed on a closed channel, then closes the command
// channel, causing Run to drain pending work and exit once the heap
// empties (spec.md §5 "Cancellation / shutdown" — dropping all
// SyncerChannel clones closes the channel).
func (s *Syncer) Close() {
	s.cfg.Store.ClearOnFlush()
	close(s.cmds)
}

// Wait blocks until Run has returned.
func (s *Syncer) Wait() { <-s.done }

// Run drives the main receive loop (spec.md §4.5 "Main loop — iter")
// until the command channel disconnects and the planned-flush heap is
// empty. Call it in its own goroutine.
func (s *Syncer) Run() {
	defer close(s.done)

	for {
		timeout := neverDue
		if s.pfh.Len() > 0 {
			timeout = s.pfh[0].when.Sub(s.cfg.Clocks.Monotonic())
			if timeout < 0 {
				timeout = 0
			}
		}

		v, res := s.cfg.Clocks.RecvTimeout(s.cmds, timeout)

		switch res {
		case clock.RecvDisconnected:
			if s.pfh.Len() == 0 {
				return
			}

			// Drain: wait until the head is due, then flush it.
			if wait := s.pfh[0].when.Sub(s.cfg.Clocks.Monotonic()); wait > 0 {
				s.cfg.Clocks.Sleep(wait)
			}

			s.flush()
		case clock.RecvTimeout:
			s.flush()
		case clock.RecvOK:
			c, _ := v.(cmd)
			s.handle(c)
		}
	}
}

func (s *Syncer) handle(c cmd) {
	switch c.kind {
	case cmdAsyncSaveRecording:
		s.handleAsyncSave(c)
	case cmdDatabaseFlushed:
		if err := s.collectGarbage(); err != nil {
			log.Printf("syncer: collect garbage: %v", err)
		}
	case cmdFlushNow:
		if s.pfh.Len() == 0 {
			close(c.flushSender)
			return
		}

		s.pfh[0].senders = append(s.pfh[0].senders, c.flushSender)
	}
}

func (s *Syncer) handleAsyncSave(c cmd) {
	streamID := c.id.StreamId()

	clock.RetryForeverErr(s.cfg.Clocks, c.file.Sync)
	_ = c.file.Close()

	clock.RetryForeverErr(s.cfg.Clocks, s.cfg.Dir.Sync)

	if err := s.cfg.Store.MarkSynced(c.id); err != nil {
		log.Printf("syncer: bug: mark synced %s: %v", c.id, err)
		return
	}

	sc, ok := s.streams[streamID]
	if !ok {
		log.Printf("syncer: bug: async save for unknown stream %d", streamID)
		return
	}

	if err := retention.Rotate(s.cfg.Store, streamID, sc.RetainBytes, 0, s.cfg.Round); err != nil {
		log.Printf("syncer: retention rotate stream %d: %v", streamID, err)
	}

	next, err := s.cfg.Store.NextRecordingID(streamID)
	if err != nil {
		log.Printf("syncer: bug: next recording id for stream %d: %v", streamID, err)
		next = c.id.RecordingId() + 1
	}

	durSec := c.totalDuration90k / recfmt.TimeUnitsPerSec

	delaySec := sc.FlushIfSec - durSec
	if delaySec < 0 {
		delaySec = 0
	}

	when := s.cfg.Clocks.Monotonic().Add(time.Duration(delaySec) * time.Second)
	reason := fmt.Sprintf("%s synced (duration %ds)", c.id, durSec)

	heap.Push(&s.pfh, &plannedFlush{
		when:            when,
		streamID:        streamID,
		recording:       c.id,
		scheduledNextID: next,
		reason:          reason,
	})
}

// flush implements spec.md §4.5's "flush()": discard entries already
// rendered obsolete by a later commit on the same stream, fire the due
// head if any, and clear the whole heap on success (one flush commits
// everything queued up to now).
func (s *Syncer) flush() {
	for s.pfh.Len() > 0 {
		head := s.pfh[0]

		next, err := s.cfg.Store.NextRecordingID(head.streamID)
		if err == nil && next > head.scheduledNextID {
			// A later recording on this stream was already opened since
			// this entry was scheduled: the flush that followed it (or an
			// explicit Flush) already committed this one too.
			heap.Pop(&s.pfh)
			head.release()

			continue
		}

		break
	}

	if s.pfh.Len() == 0 {
		return
	}

	head := s.pfh[0]
	if head.when.After(s.cfg.Clocks.Monotonic()) {
		return
	}

	if err := s.cfg.Store.Flush(head.reason); err != nil {
		log.Printf("syncer: flush (%s) failed, retrying in 1m: %v", head.reason, err)
		head.when = s.cfg.Clocks.Monotonic().Add(time.Minute)
		heap.Fix(&s.pfh, 0)

		return
	}

	for s.pfh.Len() > 0 {
		pf := heap.Pop(&s.pfh).(*plannedFlush) //nolint:forcetypeassert
		pf.release()
	}
}

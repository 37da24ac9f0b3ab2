// Package certifier implements the replicated-transaction certifier:
// conflict detection over write sets and snapshot versions, global
// identifier assignment, parallel-apply timestamp computation, and
// garbage collection of stale certification records. Grounded on
// plugin/group_replication/{certifier.h,certifier.cc}'s Certifier
// class, re-expressed as explicit state plus a single mutex rather
// than a class hierarchy, matching a mutex-guarded table driven by a
// background ticker goroutine.
package certifier

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/zhukovaskychina/keycache/internal/gtid"
	"github.com/zhukovaskychina/keycache/internal/xerrors"
	"github.com/zhukovaskychina/keycache/logger"
)

// Outcome is certify's result: positive (commit), negative (conflict
// abort), or error (allocation/serialisation failure).
type Outcome int

const (
	Negative Outcome = iota
	Positive
	ErrorOutcome
)

func (o Outcome) String() string {
	switch o {
	case Positive:
		return "positive"
	case Negative:
		return "negative"
	default:
		return "error"
	}
}

// CertifiedGTID is the outcome of a Certify call.
type CertifiedGTID struct {
	Outcome       Outcome
	GTID          string
	LastCommitted int64
	SequenceNumber int64
}

// record is one certification-table entry: the last transaction's
// outgoing snapshot for a given write-set fingerprint, plus the
// parallel-apply sequence number it was assigned.
type record struct {
	snapshot       *gtid.Set
	sequenceNumber int64
}

// Stats mirrors the certifier's externally visible counters.
type Stats struct {
	PositiveCertified     int64
	NegativeCertified     int64
	CertificationInfoSize int
	LastConflictFreeGTID  string
}

// Certifier is the certification core. One instance per replication
// group member.
type Certifier struct {
	mu sync.Mutex // LOCK_certification_info

	memberUUID string
	allocator  *gnoAllocator

	certInfo map[string]*record

	executedSet *gtid.Set // group_gtid_executed

	conflictDetectionEnabled bool

	parallelApplierLastCommittedGlobal int64
	parallelApplierSequenceNumber      int64

	positiveCertified    int64
	negativeCertified    int64
	lastConflictFreeGTID string

	preemptiveGC              bool
	preemptiveGCRowsThreshold int

	stableMu     sync.RWMutex
	stableSet    *gtid.Set
	receivedSets map[string]*gtid.Set
	members      []string

	bt *broadcastThread
}

// Config bundles Certifier construction parameters, mirroring the
// tunables gtid_assignment_block_size,
// preemptive_garbage_collection[_rows_threshold], and
// certifier_broadcast_period.
type Config struct {
	MemberUUID                string
	GTIDAssignmentBlockSize   int64
	PreemptiveGC              bool
	PreemptiveGCRowsThreshold int
}

// New constructs a Certifier. Call StartBroadcastThread to begin the
// periodic executed-set announcement.
func New(cfg Config) *Certifier {
	if cfg.MemberUUID == "" {
		cfg.MemberUUID = uuid.NewString()
	}
	if cfg.GTIDAssignmentBlockSize <= 0 {
		cfg.GTIDAssignmentBlockSize = 1000000
	}
	c := &Certifier{
		memberUUID:                cfg.MemberUUID,
		allocator:                 newGNOAllocator(cfg.GTIDAssignmentBlockSize),
		certInfo:                  make(map[string]*record),
		executedSet:               gtid.New(),
		conflictDetectionEnabled:  true,
		preemptiveGC:              cfg.PreemptiveGC,
		preemptiveGCRowsThreshold: cfg.PreemptiveGCRowsThreshold,
		stableSet:                 gtid.New(),
		receivedSets:              make(map[string]*gtid.Set),
	}
	// Sequence numbers start at 1 so that every transaction's
	// last_committed (at least 0) is below its sequence_number.
	c.parallelApplierSequenceNumber = 1
	return c
}

// EnableConflictDetection / DisableConflictDetection / IsConflictDetectionEnabled
// are the certifier's toggle operations. Conflict detection is enabled
// in multi-writer mode and during recovery of a new primary; the
// caller decides when those conditions hold and calls these
// accordingly.
func (c *Certifier) EnableConflictDetection() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conflictDetectionEnabled = true
}

func (c *Certifier) DisableConflictDetection() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conflictDetectionEnabled = false
}

func (c *Certifier) IsConflictDetectionEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conflictDetectionEnabled
}

// SetMembers records the current group membership, used to decide when
// enough executed-set broadcasts have been received to run garbage
// collection (every member must have reported once, since every member
// periodically broadcasts its current executed set).
func (c *Certifier) SetMembers(memberIDs []string) {
	c.stableMu.Lock()
	defer c.stableMu.Unlock()
	c.members = append([]string(nil), memberIDs...)
	c.receivedSets = make(map[string]*gtid.Set)
}

// Certify runs the conflict-detection and GTID-assignment algorithm.
func (c *Certifier) Certify(snapshotVersion *gtid.Set, writeSet []string, specifiedGTID, originUUID string, largeWriteSet bool) (CertifiedGTID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conflictDetectionEnabled {
		for _, fp := range writeSet {
			if rec, ok := c.certInfo[fp]; ok {
				if !rec.snapshot.IsSubsetOf(snapshotVersion) {
					c.negativeCertified++
					logger.Debugf("certifier: negative certification for fingerprint %q (stale snapshot)", fp)
					return CertifiedGTID{Outcome: Negative}, nil
				}
			}
		}
	}

	sid, gno, err := c.resolveIdentifier(specifiedGTID, originUUID)
	if err != nil {
		return CertifiedGTID{Outcome: ErrorOutcome}, xerrors.Wrap("Certify", err)
	}
	identifier := fmt.Sprintf("%s:%d", sid, gno)

	newSnapshot := snapshotVersion.Clone()
	newSnapshot.Add(sid, gno)

	lastCommitted := c.parallelApplierLastCommittedGlobal
	for _, fp := range writeSet {
		if rec, ok := c.certInfo[fp]; ok && rec.sequenceNumber > lastCommitted {
			lastCommitted = rec.sequenceNumber
		}
	}
	sequenceNumber := c.parallelApplierSequenceNumber
	c.parallelApplierSequenceNumber++

	if len(writeSet) == 0 || largeWriteSet {
		lastCommitted = sequenceNumber - 1
		c.parallelApplierLastCommittedGlobal = sequenceNumber
	}

	for _, fp := range writeSet {
		c.certInfo[fp] = &record{snapshot: newSnapshot, sequenceNumber: sequenceNumber}
	}

	c.executedSet.Add(sid, gno)
	c.positiveCertified++
	c.lastConflictFreeGTID = identifier

	if c.preemptiveGC && len(c.certInfo) > c.preemptiveGCRowsThreshold {
		logger.Infof("certifier: certification table size %d exceeds preemptive GC threshold %d", len(c.certInfo), c.preemptiveGCRowsThreshold)
		c.garbageCollectLocked(c.stableSetSnapshot())
	}

	return CertifiedGTID{
		Outcome:        Positive,
		GTID:           identifier,
		LastCommitted:  lastCommitted,
		SequenceNumber: sequenceNumber,
	}, nil
}

// resolveIdentifier honours a caller-specified GTID (checking it for
// collision against the executed set) or mints one from the per-member
// block allocator.
func (c *Certifier) resolveIdentifier(specifiedGTID, originUUID string) (sid string, gno int64, err error) {
	if specifiedGTID != "" {
		sid, gno, err = parseGTID(specifiedGTID)
		if err != nil {
			return "", 0, err
		}
		if c.executedSet.Contains(sid, gno) {
			return "", 0, xerrors.ErrTransactionConflict
		}
		return sid, gno, nil
	}

	sid = c.memberUUID
	if originUUID != "" {
		sid = originUUID
	}
	gno = c.allocator.Next()
	return sid, gno, nil
}

func parseGTID(s string) (string, int64, error) {
	idx := strings.LastIndexByte(s, ':')
	if idx < 0 {
		return "", 0, xerrors.Wrap("parseGTID", xerrors.ErrInvalidConfig)
	}
	gno, err := strconv.ParseInt(s[idx+1:], 10, 64)
	if err != nil {
		return "", 0, xerrors.Wrap("parseGTID", err)
	}
	return s[:idx], gno, nil
}

// GenerateViewChangeGTID mints a dedicated GTID for a view-change event
// and adds it to the executed set, mirroring certifier.cc's
// generate_view_change_view_id.
func (c *Certifier) GenerateViewChangeGTID() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	gno := c.allocator.Next()
	identifier := fmt.Sprintf("%s:%d", c.memberUUID, gno)
	c.executedSet.Add(c.memberUUID, gno)
	return identifier, nil
}

// AddGTIDToExecuted records an externally-assigned GTID as executed.
func (c *Certifier) AddGTIDToExecuted(gtidStr string) error {
	sid, gno, err := parseGTID(gtidStr)
	if err != nil {
		return xerrors.Wrap("AddGTIDToExecuted", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.executedSet.Add(sid, gno)
	return nil
}

// ExecutedSet returns a snapshot of the local executed set, used by the
// broadcast thread.
func (c *Certifier) ExecutedSet() *gtid.Set {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.executedSet.Clone()
}

// GetStableSetText renders the current stable set as text.
func (c *Certifier) GetStableSetText() string {
	c.stableMu.RLock()
	defer c.stableMu.RUnlock()
	return c.stableSet.String()
}

func (c *Certifier) stableSetSnapshot() *gtid.Set {
	c.stableMu.RLock()
	defer c.stableMu.RUnlock()
	return c.stableSet.Clone()
}

// HandleViewChange handles a membership view change: the received-set
// accumulator for the previous view no longer applies once membership
// changes, so it is cleared; the certification table and executed set
// both survive the view change intact.
func (c *Certifier) HandleViewChange() {
	c.stableMu.Lock()
	defer c.stableMu.Unlock()
	c.receivedSets = make(map[string]*gtid.Set)
	logger.Infof("certifier: view change handled, received-set accumulator cleared")
}

// Stats returns a point-in-time snapshot of the certifier's counters.
func (c *Certifier) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		PositiveCertified:     c.positiveCertified,
		NegativeCertified:     c.negativeCertified,
		CertificationInfoSize: len(c.certInfo),
		LastConflictFreeGTID:  c.lastConflictFreeGTID,
	}
}

// gnoAllocator mints sequence numbers from successive fixed-size
// blocks, mirroring the per-member GTID assignment block reserved from
// the group so that most transactions do not need a consensus round
// just to get a sequence number.
type gnoAllocator struct {
	blockSize int64
	next      int64
	limit     int64
}

func newGNOAllocator(blockSize int64) *gnoAllocator {
	return &gnoAllocator{blockSize: blockSize, next: 1, limit: blockSize}
}

func (a *gnoAllocator) Next() int64 {
	if a.next > a.limit {
		a.limit += a.blockSize
	}
	n := a.next
	a.next++
	return n
}

package certifier

import (
	"github.com/zhukovaskychina/keycache/internal/gtid"
	"github.com/zhukovaskychina/keycache/logger"
)

// garbageCollectLocked drops every certification record whose stored
// snapshot is already a subset of stable. Caller must hold c.mu.
func (c *Certifier) garbageCollectLocked(stable *gtid.Set) int {
	dropped := 0
	for fp, rec := range c.certInfo {
		if rec.snapshot.IsSubsetOf(stable) {
			delete(c.certInfo, fp)
			dropped++
		}
	}
	if dropped > 0 {
		logger.Debugf("certifier: garbage collected %d stale certification records", dropped)
	}
	return dropped
}

// GarbageCollect is runnable on demand with an externally supplied
// intersection (e.g. on member join) in addition to the
// broadcast-thread-triggered path.
func (c *Certifier) GarbageCollect(stable *gtid.Set) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.garbageCollectLocked(stable)
}

// ReceiveExecutedSet records a member's periodically broadcast executed
// set and, once every known member has reported for this round,
// computes the stable set as their intersection and runs garbage
// collection.
func (c *Certifier) ReceiveExecutedSet(memberID string, set *gtid.Set) {
	c.stableMu.Lock()
	c.receivedSets[memberID] = set

	if !c.haveAllMemberReportsLocked() {
		c.stableMu.Unlock()
		return
	}

	sets := make([]*gtid.Set, 0, len(c.receivedSets))
	for _, s := range c.receivedSets {
		sets = append(sets, s)
	}
	stable := gtid.Intersect(sets...)
	c.stableSet = stable
	c.receivedSets = make(map[string]*gtid.Set)
	c.stableMu.Unlock()

	logger.Infof("certifier: computed new stable set from %d member reports", len(sets))
	c.GarbageCollect(stable)
}

func (c *Certifier) haveAllMemberReportsLocked() bool {
	if len(c.members) == 0 {
		return len(c.receivedSets) > 0
	}
	for _, m := range c.members {
		if _, ok := c.receivedSets[m]; !ok {
			return false
		}
	}
	return true
}

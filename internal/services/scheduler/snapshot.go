package scheduler

import "time"

type JobInfo struct {
	Name string
	Spec string
	Next time.Time
	Prev time.Time
}

type Snapshot struct {
	Timezone string
	Jobs     []JobInfo
	History  []HistoryItem
}

// Snapshot reports registered jobs and recent firings, for health/status
// surfaces and tests.
func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{Timezone: s.loc.String()}
	c := s.c
	for _, d := range s.defs {
		info := JobInfo{Name: d.name, Spec: d.spec}
		if c != nil {
			e := c.Entry(d.entryID)
			info.Next = e.Next
			info.Prev = e.Prev
		}
		snap.Jobs = append(snap.Jobs, info)
	}
	s.mu.Unlock()

	s.hmu.Lock()
	snap.History = append(snap.History, s.history...)
	s.hmu.Unlock()
	return snap
}

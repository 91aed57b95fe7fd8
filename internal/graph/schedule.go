package graph

import (
	"sort"
	"time"

	"github.com/sailing-dev/sailing/internal/core"
	"github.com/sailing-dev/sailing/internal/types"
)

// ScheduleEntry is one task's placement in a schedule, in hours from the
// schedule origin.
type ScheduleEntry struct {
	ID    string
	Start float64
	End   float64
	Hours float64
}

// Schedule is the result of CPM placement over the DAG.
type Schedule struct {
	Entries      map[string]*ScheduleEntry
	CriticalPath []string // task chain realizing the longest end-to-end span
	TotalHours   float64  // sum of every task's effort
	CriticalHrs  float64  // summed effort along the critical path
}

// RealSchedule augments the theoretical placement with actual timestamps.
type RealSchedule struct {
	Theoretical   *Schedule
	EarliestStart *time.Time // earliest started_at seen
	LatestEnd     *time.Time // latest done_at seen
}

// CPM computes the theoretical earliest-start schedule, ignoring actual
// timestamps: start(t) = max(end(b) for b in blockers). effortHours maps a
// symbolic effort ("2h") to hours; it must handle "".
func (g *Graph) CPM(effortHours func(string) float64) (*Schedule, error) {
	order, err := g.topoOrder()
	if err != nil {
		return nil, err
	}

	s := &Schedule{Entries: make(map[string]*ScheduleEntry, len(order))}
	for _, id := range order {
		n := g.Nodes[id]
		if types.IsCancelled(n.Entry.Front.Status) {
			continue
		}
		hours := effortHours(n.Entry.Front.Effort)
		start := 0.0
		for _, b := range n.Blockers {
			if be, ok := s.Entries[b]; ok && be.End > start {
				start = be.End
			}
		}
		s.Entries[id] = &ScheduleEntry{ID: id, Start: start, End: start + hours, Hours: hours}
		s.TotalHours += hours
	}

	// Critical path: backtrack from the sink with the largest end through
	// the blocker whose end equals our start.
	var sink *ScheduleEntry
	for _, e := range s.Entries {
		if sink == nil || e.End > sink.End || (e.End == sink.End && e.ID < sink.ID) {
			sink = e
		}
	}
	if sink != nil {
		var path []string
		for cur := sink; cur != nil; {
			path = append(path, cur.ID)
			s.CriticalHrs += cur.Hours
			var next *ScheduleEntry
			for _, b := range g.Nodes[cur.ID].Blockers {
				be, ok := s.Entries[b]
				if !ok {
					continue
				}
				if be.End == cur.Start && (next == nil || be.ID < next.ID) {
					next = be
				}
			}
			cur = next
		}
		// Reverse into source-to-sink order.
		for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
			path[i], path[j] = path[j], path[i]
		}
		s.CriticalPath = path
	}
	return s, nil
}

// Real computes the actual-timestamp envelope, falling back to the
// theoretical placement for tasks that have not started.
func (g *Graph) Real(effortHours func(string) float64) (*RealSchedule, error) {
	theo, err := g.CPM(effortHours)
	if err != nil {
		return nil, err
	}
	rs := &RealSchedule{Theoretical: theo}
	for _, id := range g.IDs() {
		fm := g.Nodes[id].Entry.Front
		if fm.StartedAt != nil && (rs.EarliestStart == nil || fm.StartedAt.Before(*rs.EarliestStart)) {
			t := *fm.StartedAt
			rs.EarliestStart = &t
		}
		if fm.DoneAt != nil && (rs.LatestEnd == nil || fm.DoneAt.After(*rs.LatestEnd)) {
			t := *fm.DoneAt
			rs.LatestEnd = &t
		}
	}
	return rs, nil
}

// topoOrder returns the node IDs in blocker-first order, failing with a
// validation error naming the cycle when the graph is not a DAG.
func (g *Graph) topoOrder() ([]string, error) {
	if cycles := g.Cycles(); len(cycles) > 0 {
		return nil, core.Errorf(core.KindValidation, "graph.schedule",
			"dependency cycle: %v", cycles[0])
	}
	indegree := make(map[string]int, len(g.Nodes))
	for _, id := range g.order {
		indegree[id] = len(g.Nodes[id].Blockers)
	}
	var queue []string
	for _, id := range g.order {
		if indegree[id] == 0 {
			queue = append(queue, id)
		}
	}
	sort.Strings(queue)

	var out []string
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		out = append(out, id)
		for _, dep := range g.Nodes[id].Dependents {
			indegree[dep]--
			if indegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}
	return out, nil
}

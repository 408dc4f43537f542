// Copyright 2019, Square, Inc.

package runner

import (
	"fmt"
	"sort"

	"github.com/orcaman/concurrent-map"

	"github.com/square/peflow/proto"
)

// Repo is a small wrapper around a concurrent map that stores the Runners
// running in one process, keyed on worker rank. The HTTP comm uses it to
// report status while a run is in progress.
type Repo interface {
	Set(rank int, r *Runner)
	Remove(rank int)
	Items() (map[int]*Runner, error)
	Status() []proto.Status
}

type repo struct {
	c cmap.ConcurrentMap
}

func NewRepo() Repo {
	return &repo{
		c: cmap.New(),
	}
}

func (r *repo) Set(rank int, runner *Runner) {
	r.c.Set(fmt.Sprint(rank), runner)
}

func (r *repo) Remove(rank int) {
	r.c.Remove(fmt.Sprint(rank))
}

// Items returns a map of rank => Runner with all the Runners in the repo.
func (r *repo) Items() (map[int]*Runner, error) {
	runners := map[int]*Runner{}
	for key, val := range r.c.Items() {
		runner, ok := val.(*Runner)
		if !ok {
			return runners, fmt.Errorf("invalid runner in repo for key=%s", key) // should be impossible
		}
		var rank int
		if _, err := fmt.Sscan(key, &rank); err != nil {
			return runners, fmt.Errorf("invalid rank in repo: %s", key)
		}
		runners[rank] = runner
	}
	return runners, nil
}

// Status returns the status of every Runner in the repo, ordered by rank.
func (r *repo) Status() []proto.Status {
	runners, _ := r.Items()
	status := make([]proto.Status, 0, len(runners))
	for rank, runner := range runners {
		status = append(status, proto.Status{
			Rank:  rank,
			PE:    runner.pe.ID(),
			State: runner.Status(),
		})
	}
	sort.Slice(status, func(i, j int) bool { return status[i].Rank < status[j].Rank })
	return status
}

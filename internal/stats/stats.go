// Package stats summarizes the cache behaviour of an Nx run from the
// run.json file Nx writes after each invocation.
package stats

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

const (
	StatusLocalHit  = "local-cache-hit"
	StatusRemoteHit = "remote-cache-hit"
)

type runSummary struct {
	Run struct {
		Command string `json:"command"`
	} `json:"run"`
	Tasks []struct {
		TaskID      string `json:"taskId"`
		Hash        string `json:"hash"`
		CacheStatus string `json:"cacheStatus"`
	} `json:"tasks"`
}

type Task struct {
	TaskID string `json:"taskId"`
	Hash   string `json:"hash"`
}

type Report struct {
	Command         string `json:"command"`
	TotalTasks      int    `json:"totalTasks"`
	LocalCacheHits  []Task `json:"localCacheHits"`
	RemoteCacheHits []Task `json:"remoteCacheHits"`
	NoCache         []Task `json:"noCache"`
}

// Compute buckets every task by cache status. Statuses other than a local or
// remote hit count as uncached.
func Compute(r io.Reader) (Report, error) {
	var summary runSummary
	if err := json.NewDecoder(r).Decode(&summary); err != nil {
		return Report{}, fmt.Errorf("parse run summary: %w", err)
	}

	rep := Report{
		Command:         summary.Run.Command,
		TotalTasks:      len(summary.Tasks),
		LocalCacheHits:  []Task{},
		RemoteCacheHits: []Task{},
		NoCache:         []Task{},
	}
	if rep.Command == "" {
		rep.Command = "<unknown>"
	}
	for _, t := range summary.Tasks {
		task := Task{TaskID: t.TaskID, Hash: t.Hash}
		switch t.CacheStatus {
		case StatusLocalHit:
			rep.LocalCacheHits = append(rep.LocalCacheHits, task)
		case StatusRemoteHit:
			rep.RemoteCacheHits = append(rep.RemoteCacheHits, task)
		default:
			rep.NoCache = append(rep.NoCache, task)
		}
	}
	return rep, nil
}

// FileName is the default JSON report name derived from the Nx command.
func (r Report) FileName() string {
	return strings.ReplaceAll(r.Command, " ", "_") + ".json"
}

func WriteJSON(w io.Writer, r Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

func Print(w io.Writer, r Report) error {
	var b strings.Builder
	fmt.Fprintln(&b)
	fmt.Fprintln(&b, "Nx cache statistics")
	fmt.Fprintf(&b, "Command           : %s\n", r.Command)
	fmt.Fprintf(&b, "Tasks executed    : %d\n", r.TotalTasks)
	fmt.Fprintf(&b, "Local cache hits  : %d\n", len(r.LocalCacheHits))
	fmt.Fprintf(&b, "Remote cache hits : %d\n", len(r.RemoteCacheHits))
	fmt.Fprintf(&b, "None              : %d\n", len(r.NoCache))

	printTasks(&b, "Local cache hit tasks:", r.LocalCacheHits)
	printTasks(&b, "Remote cache hit tasks:", r.RemoteCacheHits)
	printTasks(&b, "Uncached tasks:", r.NoCache)

	_, err := io.WriteString(w, b.String())
	return err
}

func printTasks(b *strings.Builder, title string, tasks []Task) {
	if len(tasks) == 0 {
		return
	}
	fmt.Fprintln(b)
	fmt.Fprintln(b, title)
	for _, t := range tasks {
		fmt.Fprintf(b, "  - %s (%s)\n", t.TaskID, t.Hash)
	}
}

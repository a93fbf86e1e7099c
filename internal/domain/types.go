package domain

import "time"

// Status is the lifecycle state of a Task.
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// IsTerminal reports whether no further transitions are allowed.
func (s Status) IsTerminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// TaskIDLength is the fixed length of a task id (uuid hex, no dashes).
// Lookups by a 32-character string are treated as id lookups first.
const TaskIDLength = 32

// Task is a single unit of work and its execution record.
type Task struct {
	ID          string
	Name        string
	Func        string
	Hook        string
	Args        []byte // codec-encoded
	Kwargs      []byte // codec-encoded
	Result      []byte // codec-encoded, nil until terminal
	Group       string
	ClusterType string
	CreatedAt   time.Time
	StartedAt   *time.Time
	StoppedAt   *time.Time
	Duration    int // seconds, set at completion
	Status      Status
	Attempts    int
}

// Message is a claimed broker queue row. LockedAt is the claim token:
// Ack and Fail only act while the stored lock still matches it.
type Message struct {
	ID       int64
	Key      string
	Payload  string
	LockedAt time.Time
}

// ScheduleKind tags the recurrence variant of a Schedule.
type ScheduleKind string

const (
	KindOnce      ScheduleKind = "once"
	KindMinutes   ScheduleKind = "minutes"
	KindHourly    ScheduleKind = "hourly"
	KindDaily     ScheduleKind = "daily"
	KindWeekly    ScheduleKind = "weekly"
	KindMonthly   ScheduleKind = "monthly"
	KindQuarterly ScheduleKind = "quarterly"
	KindYearly    ScheduleKind = "yearly"
	KindCron      ScheduleKind = "cron"
)

// Recurrence is the tagged union over schedule kinds. Minutes is only
// meaningful for KindMinutes, Cron only for KindCron.
type Recurrence struct {
	Kind    ScheduleKind
	Minutes int
	Cron    string
}

// Schedule is a recurring task definition. Args and Kwargs are
// human-authored text, parsed at fire time; they are not codec blobs.
type Schedule struct {
	ID      int64
	Name    string
	Func    string
	Hook    string
	Args    string
	Kwargs  string
	Group   string
	Recur   Recurrence
	Repeats int // -1 = forever, 0 = inert
	NextRun time.Time
	TaskID  string // most recently spawned task, empty if none yet
}

// Inert reports whether the schedule will never fire again.
func (s Schedule) Inert() bool { return s.Repeats == 0 }

// Cluster is a liveness record for a running cluster process.
type Cluster struct {
	ID          string
	StartedAt   time.Time
	HeartbeatAt time.Time
	Hostname    string
	PID         int
	ClusterType string
}

// Worker is a liveness record for a single worker goroutine. TaskID is
// the task currently executing, empty when idle.
type Worker struct {
	ID          string
	ClusterID   string
	PID         int
	StartedAt   time.Time
	HeartbeatAt time.Time
	TaskID      string
}

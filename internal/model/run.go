package model

import "time"

// RunTrigger は集約ランの起動契機を表す。
type RunTrigger string

const (
	TriggerSchedule RunTrigger = "schedule"
	TriggerManual   RunTrigger = "manual"
	TriggerCLI      RunTrigger = "cli"
)

// RunReport は1回の集約ランの結果を表す。
type RunReport struct {
	Trigger    RunTrigger    `json:"trigger"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Duration   time.Duration `json:"duration_ns"`
	Sources    int           `json:"sources"`
	Fetched    int           `json:"fetched"`
	Published  int           `json:"published"`
	Skipped    int           `json:"skipped"`
	Failed     int           `json:"failed"`
	Degraded   int           `json:"degraded"`
	Error      string        `json:"error,omitempty"`
}

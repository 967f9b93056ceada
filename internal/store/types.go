package store

import "github.com/ralphlabs/ralphd/internal/plan"

// Project statuses.
const (
	StatusCreated     = "created"
	StatusInitialized = "initialized"
	StatusRunning     = "running"
	StatusPaused      = "paused"
	StatusCompleted   = "completed"
	StatusError       = "error"
)

// Project is one orchestrated workspace. ID doubles as the human-visible
// name and must be unique.
type Project struct {
	ID             string    `json:"id"`
	RootPath       string    `json:"rootPath"`
	Plan           plan.Plan `json:"plan"`
	Status         string    `json:"status"`
	Iteration      int       `json:"iteration"`
	UseHumanReview bool      `json:"useHumanReview"`
	CreatedAt      string    `json:"createdAt"`
	UpdatedAt      string    `json:"updatedAt"`
}

// Lesson records one task failure. Lessons are a process-global bounded
// FIFO fed back into subsequent developer prompts.
type Lesson struct {
	Project   string `json:"project"`
	Stage     string `json:"stage"`
	Task      string `json:"task"`
	Error     string `json:"error"`
	Timestamp string `json:"timestamp"`
}

// ChatSettings configures the chat bridge.
type ChatSettings struct {
	Enabled        bool   `json:"enabled"`
	Token          string `json:"token"`
	ChatID         string `json:"chatId"`
	UseHumanReview bool   `json:"useHumanReview"`
}

// Settings holds the tunables snapshotted by each pipeline at start.
type Settings struct {
	MaxIterations     int          `json:"maxIterations"`
	MaxRetriesPerTask int          `json:"maxRetriesPerTask"`
	BaseSleepTime     int          `json:"baseSleepTime"` // milliseconds
	BackoffMultiplier float64      `json:"backoffMultiplier"`
	UseReviewerAgent  bool         `json:"useReviewerAgent"`
	AutoTest          bool         `json:"autoTest"`
	CodexPath         string       `json:"codexPath,omitempty"`
	Chat              ChatSettings `json:"chat"`
}

// DefaultSettings returns the settings applied to a fresh document.
func DefaultSettings() Settings {
	return Settings{
		MaxIterations:     100,
		MaxRetriesPerTask: 3,
		BaseSleepTime:     5000,
		BackoffMultiplier: 2,
		UseReviewerAgent:  true,
		AutoTest:          false,
		CodexPath:         "codex",
	}
}

// document is the single persisted JSON document.
type document struct {
	Projects []Project `json:"projects"`
	Lessons  []Lesson  `json:"lessons"`
	Settings Settings  `json:"settings"`
}

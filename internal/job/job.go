package job

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mathvizai/mathviz/constants"
)

// Input is the tagged union a job is created from: either a topic string or a
// page-limited document whose text was already extracted at the boundary.
type Input struct {
	Topic      string    `json:"topic,omitempty"`
	Document   *Document `json:"document,omitempty"`
	Difficulty string    `json:"difficulty,omitempty"`
}

// Document is bounded extracted text from an uploaded file.
type Document struct {
	Text  string `json:"text"`
	Pages int    `json:"pages"`
}

// Text returns the raw text the pipeline starts from.
func (in Input) Text() string {
	if in.Document != nil {
		return in.Document.Text
	}
	return in.Topic
}

// StageError is the structured error record attached to a failed job.
type StageError struct {
	Kind      constants.ErrorKind `json:"kind"`
	Stage     string              `json:"stage"`
	Message   string              `json:"message"`
	Retryable bool                `json:"retryable"`
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s [%s]: %s", e.Stage, e.Kind, e.Message)
}

// NewStageError builds a stage-level failure record.
func NewStageError(kind constants.ErrorKind, stage, message string, retryable bool) *StageError {
	return &StageError{Kind: kind, Stage: stage, Message: message, Retryable: retryable}
}

// StageOutput is one stage's artifact kept for traceability. Payload is the
// stage's typed output serialized to JSON; the orchestrator never interprets it.
type StageOutput struct {
	Stage      string          `json:"stage"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	ElapsedMS  int64           `json:"elapsed_ms"`
	Attempts   int             `json:"attempts"`
	FinishedAt time.Time       `json:"finished_at"`
}

// Job is one end-to-end request's state as it moves through the pipeline.
type Job struct {
	ID           uuid.UUID           `json:"id"`
	Input        Input               `json:"input"`
	Status       constants.JobStatus `json:"status"`
	StageIndex   int                 `json:"stage_index"`
	StageName    string              `json:"stage_name,omitempty"`
	StageOutputs []StageOutput       `json:"stage_outputs,omitempty"`
	Error        *StageError         `json:"error,omitempty"`
	ArtifactRef  string              `json:"artifact_ref,omitempty"`
	CreatedAt    time.Time           `json:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at"`
}

// New initializes a queued job for the given input.
func New(input Input) *Job {
	now := time.Now().UTC()
	return &Job{
		ID:        uuid.New(),
		Input:     input,
		Status:    constants.JobStatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// IsTerminal reports whether the job reached a terminal state.
func (j *Job) IsTerminal() bool { return j.Status.IsTerminal() }

// MarkRunning transitions the job to Running at stage index k. Transitions are
// monotonic: Queued -> Running(0) -> Running(1) -> ... A call that would move
// the stage index backwards, or that targets a terminal job, is rejected.
func (j *Job) MarkRunning(stageIndex int, stageName string) error {
	if j.IsTerminal() {
		return fmt.Errorf("job %s is terminal (%s)", j.ID, j.Status)
	}
	if j.Status == constants.JobStatusRunning && stageIndex < j.StageIndex {
		return fmt.Errorf("job %s: stage index %d would move backwards from %d", j.ID, stageIndex, j.StageIndex)
	}
	j.Status = constants.JobStatusRunning
	j.StageIndex = stageIndex
	j.StageName = stageName
	j.touch()
	return nil
}

// AppendOutput records a completed stage's artifact.
func (j *Job) AppendOutput(out StageOutput) {
	j.StageOutputs = append(j.StageOutputs, out)
	j.touch()
}

// MarkSucceeded transitions to the terminal success state. ArtifactRef is set
// exactly once, here.
func (j *Job) MarkSucceeded(artifactRef string) error {
	if j.IsTerminal() {
		return fmt.Errorf("job %s is terminal (%s)", j.ID, j.Status)
	}
	j.Status = constants.JobStatusSucceeded
	j.ArtifactRef = artifactRef
	j.StageName = ""
	j.touch()
	return nil
}

// MarkFailed transitions to the terminal failure state carrying the structured
// error record.
func (j *Job) MarkFailed(stageErr *StageError) error {
	if j.IsTerminal() {
		return fmt.Errorf("job %s is terminal (%s)", j.ID, j.Status)
	}
	j.Status = constants.JobStatusFailed
	j.Error = stageErr
	j.touch()
	return nil
}

// MarkCancelled transitions to the terminal cancelled state. The last persisted
// stage outputs are retained; nothing is rolled back.
func (j *Job) MarkCancelled() error {
	if j.IsTerminal() {
		return fmt.Errorf("job %s is terminal (%s)", j.ID, j.Status)
	}
	j.Status = constants.JobStatusCancelled
	j.touch()
	return nil
}

func (j *Job) touch() { j.UpdatedAt = time.Now().UTC() }

// Clone returns a deep copy so callers can't mutate store-owned state.
func (j *Job) Clone() *Job {
	cp := *j
	if j.Input.Document != nil {
		doc := *j.Input.Document
		cp.Input.Document = &doc
	}
	if j.Error != nil {
		e := *j.Error
		cp.Error = &e
	}
	if j.StageOutputs != nil {
		cp.StageOutputs = make([]StageOutput, len(j.StageOutputs))
		copy(cp.StageOutputs, j.StageOutputs)
	}
	return &cp
}

// Summary is the listing/status view of a job.
type Summary struct {
	ID          uuid.UUID           `json:"job_id"`
	Status      constants.JobStatus `json:"status"`
	Topic       string              `json:"topic,omitempty"`
	Difficulty  string              `json:"difficulty,omitempty"`
	StageIndex  int                 `json:"stage_index"`
	StageName   string              `json:"stage_name,omitempty"`
	Error       *StageError         `json:"error,omitempty"`
	ArtifactRef string              `json:"artifact_ref,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
}

// Summary produces the caller-facing view; stage payloads stay off it.
func (j *Job) Summary() Summary {
	topic := j.Input.Topic
	if topic == "" && j.Input.Document != nil {
		topic = fmt.Sprintf("document (%d pages)", j.Input.Document.Pages)
	}
	return Summary{
		ID:          j.ID,
		Status:      j.Status,
		Topic:       topic,
		Difficulty:  j.Input.Difficulty,
		StageIndex:  j.StageIndex,
		StageName:   j.StageName,
		Error:       j.Error,
		ArtifactRef: j.ArtifactRef,
		CreatedAt:   j.CreatedAt,
		UpdatedAt:   j.UpdatedAt,
	}
}

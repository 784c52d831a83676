package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"shelfr/config"
	"shelfr/services/scheduler"
)

var errTaskNotFound = errors.New("task not found")

// ScheduledTasksHandler exposes the refresh schedule: tasks live in the
// settings file, the scheduler service runs them.
type ScheduledTasksHandler struct {
	config    *config.Manager
	scheduler *scheduler.Service
}

func NewScheduledTasksHandler(configManager *config.Manager, schedulerService *scheduler.Service) *ScheduledTasksHandler {
	return &ScheduledTasksHandler{config: configManager, scheduler: schedulerService}
}

// ListTasks returns every task with its live run state merged in.
func (h *ScheduledTasksHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.scheduler.GetTaskStatus())
}

// CreateTask registers a new task in the settings file.
func (h *ScheduledTasksHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Type      config.ScheduledTaskType      `json:"type"`
		Name      string                        `json:"name"`
		Frequency config.ScheduledTaskFrequency `json:"frequency"`
		Config    map[string]string             `json:"config"`
		Enabled   bool                          `json:"enabled"`
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if body.Type != config.ScheduledTaskTypeLibraryRefresh {
		http.Error(w, "unknown task type: "+string(body.Type), http.StatusBadRequest)
		return
	}
	if body.Name == "" {
		body.Name = string(body.Type)
	}
	if body.Frequency == "" {
		body.Frequency = config.ScheduledTaskFrequencyDaily
	}

	task := config.ScheduledTask{
		ID:         uuid.NewString(),
		Type:       body.Type,
		Name:       body.Name,
		Frequency:  body.Frequency,
		Config:     body.Config,
		Enabled:    body.Enabled,
		LastStatus: config.ScheduledTaskStatusPending,
		CreatedAt:  time.Now().UTC(),
	}

	settings, err := h.config.Load()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	settings.ScheduledTasks.Tasks = append(settings.ScheduledTasks.Tasks, task)
	if err := h.config.Save(settings); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(task)
}

// editTask loads the settings, applies fn to the task with the given id, and
// saves. Returns the task as persisted.
func (h *ScheduledTasksHandler) editTask(taskID string, fn func(*config.ScheduledTask)) (config.ScheduledTask, error) {
	settings, err := h.config.Load()
	if err != nil {
		return config.ScheduledTask{}, err
	}

	for i := range settings.ScheduledTasks.Tasks {
		if settings.ScheduledTasks.Tasks[i].ID != taskID {
			continue
		}
		fn(&settings.ScheduledTasks.Tasks[i])
		task := settings.ScheduledTasks.Tasks[i]
		if err := h.config.Save(settings); err != nil {
			return config.ScheduledTask{}, err
		}
		return task, nil
	}
	return config.ScheduledTask{}, errTaskNotFound
}

// UpdateTask applies a partial edit: only the fields present in the body
// change.
func (h *ScheduledTasksHandler) UpdateTask(w http.ResponseWriter, r *http.Request) {
	taskID := mux.Vars(r)["taskID"]
	if taskID == "" {
		http.Error(w, "task id is required", http.StatusBadRequest)
		return
	}

	var body struct {
		Name      string                        `json:"name"`
		Frequency config.ScheduledTaskFrequency `json:"frequency"`
		Config    map[string]string             `json:"config"`
		Enabled   *bool                         `json:"enabled"`
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	task, err := h.editTask(taskID, func(t *config.ScheduledTask) {
		if body.Name != "" {
			t.Name = body.Name
		}
		if body.Frequency != "" {
			t.Frequency = body.Frequency
		}
		if body.Config != nil {
			t.Config = body.Config
		}
		if body.Enabled != nil {
			t.Enabled = *body.Enabled
		}
	})
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, errTaskNotFound) {
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(task)
}

// ToggleTask flips a task on or off.
func (h *ScheduledTasksHandler) ToggleTask(w http.ResponseWriter, r *http.Request) {
	taskID := mux.Vars(r)["taskID"]
	if taskID == "" {
		http.Error(w, "task id is required", http.StatusBadRequest)
		return
	}

	var body struct {
		Enabled bool `json:"enabled"`
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	task, err := h.editTask(taskID, func(t *config.ScheduledTask) {
		t.Enabled = body.Enabled
	})
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, errTaskNotFound) {
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(task)
}

// DeleteTask removes a task from the schedule. A task that is mid-run stays
// until it finishes.
func (h *ScheduledTasksHandler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	taskID := mux.Vars(r)["taskID"]
	if taskID == "" {
		http.Error(w, "task id is required", http.StatusBadRequest)
		return
	}

	if h.scheduler.IsTaskRunning(taskID) {
		http.Error(w, "cannot delete a running task", http.StatusConflict)
		return
	}

	settings, err := h.config.Load()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	tasks := settings.ScheduledTasks.Tasks
	kept := tasks[:0]
	for _, t := range tasks {
		if t.ID != taskID {
			kept = append(kept, t)
		}
	}
	if len(kept) == len(tasks) {
		http.Error(w, errTaskNotFound.Error(), http.StatusNotFound)
		return
	}
	settings.ScheduledTasks.Tasks = kept

	if err := h.config.Save(settings); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RunTaskNow kicks off a task outside its schedule.
func (h *ScheduledTasksHandler) RunTaskNow(w http.ResponseWriter, r *http.Request) {
	taskID := mux.Vars(r)["taskID"]
	if taskID == "" {
		http.Error(w, "task id is required", http.StatusBadRequest)
		return
	}

	if err := h.scheduler.RunTaskNow(taskID); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"status": "started"})
}

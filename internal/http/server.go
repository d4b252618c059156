// Package http exposes the orchestrator's caller-facing verbs over HTTP.
// Authentication is out of scope: the authenticated identity arrives as an
// opaque X-User-ID header supplied by the fronting auth layer.
package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/GlyderLabs/api/internal/log"
	"github.com/GlyderLabs/api/pkg/models"
	"github.com/GlyderLabs/api/pkg/service"
)

const userIDHeader = "X-User-ID"

// response is the envelope every handler writes.
type response struct {
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

func writeJSON(w http.ResponseWriter, status int, message string, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(response{Message: message, Data: data}); err != nil {
		log.GetLogger().Errorf("Failed to encode response: %v", err)
	}
}

// writeError maps service error kinds onto HTTP statuses.
func writeError(w http.ResponseWriter, message string, err error) {
	switch {
	case service.IsValidation(err):
		writeJSON(w, http.StatusBadRequest, err.Error(), nil)
	case service.IsNotFound(err):
		writeJSON(w, http.StatusNotFound, err.Error(), nil)
	case errors.Is(err, service.ErrNotInitialized):
		writeJSON(w, http.StatusServiceUnavailable, err.Error(), nil)
	default:
		log.GetLogger().Errorf("%s: %v", message, err)
		writeJSON(w, http.StatusInternalServerError, message, nil)
	}
}

func userID(r *http.Request) string {
	return r.Header.Get(userIDHeader)
}

// Server wires the orchestrator and task service into an http.Handler.
type Server struct {
	orc   *service.Orchestrator
	tasks *service.TaskService
}

func NewServer(orc *service.Orchestrator, tasks *service.TaskService) *Server {
	return &Server{orc: orc, tasks: tasks}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", HealthHandler)
	mux.HandleFunc("/tasks/new", CreateScheduledTaskHandler(s.orc))
	mux.HandleFunc("/tasks/message", SendMessageHandler(s.orc))
	mux.HandleFunc("/tasks/user", UserTasksHandler(s.tasks))
	mux.HandleFunc("/tasks/user/summary", UserTaskSummaryHandler(s.tasks))
	mux.HandleFunc("/tasks/task/", TaskByIDHandler(s.tasks))
	mux.HandleFunc("/chats/", ChatHandler(s.tasks))
	return mux
}

// HTTPServer builds the server with timeouts suitable for an exposed
// listener; slow or idle clients cannot hold connections open indefinitely.
func (s *Server) HTTPServer(port string) *http.Server {
	return &http.Server{
		Addr:              ":" + port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
}

// Start listens on the given port until the process exits.
func (s *Server) Start(port string) error {
	log.GetLogger().Infof("Starting server on :%s", port)
	return s.HTTPServer(port).ListenAndServe()
}

func HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, "Server is running", nil)
}

type createScheduledTaskPayload struct {
	AgentID            string `json:"agent_id"`
	TaskMessage        string `json:"task_message"`
	Description        string `json:"description"`
	ScheduledTime      string `json:"scheduled_time"`
	RecurrenceInterval *int64 `json:"recurrence_interval_ms"`
	RecurrenceEndTime  string `json:"recurrence_end_time"`
}

// CreateScheduledTaskHandler handles POST /tasks/new.
func CreateScheduledTaskHandler(orc *service.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var payload createScheduledTaskPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			writeJSON(w, http.StatusBadRequest, "Invalid request body", nil)
			return
		}
		req := service.CreateScheduledTaskRequest{
			UserID:            userID(r),
			AgentID:           payload.AgentID,
			Message:           payload.TaskMessage,
			Description:       payload.Description,
			ScheduledTime:     payload.ScheduledTime,
			RecurrenceEndTime: payload.RecurrenceEndTime,
		}
		if payload.RecurrenceInterval != nil {
			interval := time.Duration(*payload.RecurrenceInterval) * time.Millisecond
			req.RecurrenceInterval = &interval
		}
		result, err := orc.CreateScheduledTask(r.Context(), req)
		if err != nil {
			writeError(w, "Failed to schedule task", err)
			return
		}
		writeJSON(w, http.StatusCreated, "Task scheduled successfully", result)
	}
}

type sendMessagePayload struct {
	AgentID     string `json:"agent_id"`
	TaskMessage string `json:"task_message"`
	ThreadID    string `json:"thread_id"`
}

// SendMessageHandler handles POST /tasks/message.
func SendMessageHandler(orc *service.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var payload sendMessagePayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			writeJSON(w, http.StatusBadRequest, "Invalid request body", nil)
			return
		}
		result, err := orc.SendMessage(r.Context(), service.SendMessageRequest{
			UserID:   userID(r),
			AgentID:  payload.AgentID,
			Message:  payload.TaskMessage,
			ThreadID: payload.ThreadID,
		})
		if err != nil {
			writeError(w, "Failed to send message", err)
			return
		}
		writeJSON(w, http.StatusCreated, "Message sent successfully", result)
	}
}

// UserTasksHandler handles GET /tasks/user with cursor pagination.
func UserTasksHandler(tasks *service.TaskService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		pageSize := 10
		if raw := r.URL.Query().Get("pageSize"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed <= 0 {
				writeJSON(w, http.StatusBadRequest, "Invalid pageSize", nil)
				return
			}
			pageSize = parsed
		}
		list, err := tasks.GetUserTasks(userID(r), pageSize, r.URL.Query().Get("lastTaskId"))
		if err != nil {
			writeError(w, "Failed to retrieve tasks", err)
			return
		}
		writeJSON(w, http.StatusOK, "Tasks retrieved successfully", list)
	}
}

// UserTaskSummaryHandler handles GET /tasks/user/summary. With an agentId
// query parameter the per-agent variant is returned.
func UserTaskSummaryHandler(tasks *service.TaskService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if agentID := r.URL.Query().Get("agentId"); agentID != "" {
			summary, err := tasks.GetUserTaskSummaryByAgent(userID(r), agentID)
			if err != nil {
				writeError(w, "Failed to retrieve task summary", err)
				return
			}
			writeJSON(w, http.StatusOK, "Task summary retrieved successfully", summary)
			return
		}
		summary, err := tasks.GetUserTaskSummary(userID(r))
		if err != nil {
			writeError(w, "Failed to retrieve task summary", err)
			return
		}
		writeJSON(w, http.StatusOK, "Task summary retrieved successfully", summary)
	}
}

type updateTaskPayload struct {
	Description        *string `json:"description"`
	ScheduledTime      *string `json:"scheduled_time"`
	RecurrenceInterval *int64  `json:"recurrence_interval_ms"`
	RecurrenceEndTime  *string `json:"recurrence_end_time"`
}

// TaskByIDHandler handles GET/PUT/DELETE /tasks/task/{id} and
// GET /tasks/task/{id}/messages.
func TaskByIDHandler(tasks *service.TaskService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, "/tasks/task/")
		taskID, sub, _ := strings.Cut(rest, "/")
		if taskID == "" {
			writeJSON(w, http.StatusBadRequest, "Task ID is required", nil)
			return
		}

		if sub == "messages" {
			if r.Method != http.MethodGet {
				http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
				return
			}
			task, err := tasks.GetTask(taskID)
			if err != nil {
				writeError(w, "Failed to retrieve task messages", err)
				return
			}
			msgs, err := tasks.GetTaskMessages(task.ThreadID)
			if err != nil {
				writeError(w, "Failed to retrieve task messages", err)
				return
			}
			writeJSON(w, http.StatusOK, "Task messages retrieved successfully", msgs)
			return
		}
		if sub != "" {
			http.NotFound(w, r)
			return
		}

		switch r.Method {
		case http.MethodGet:
			task, err := tasks.GetTask(taskID)
			if err != nil {
				writeError(w, "Failed to retrieve task", err)
				return
			}
			writeJSON(w, http.StatusOK, "Task retrieved successfully", task)
		case http.MethodPut:
			var payload updateTaskPayload
			if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
				writeJSON(w, http.StatusBadRequest, "Invalid request body", nil)
				return
			}
			upd := models.TaskScheduleUpdate{Description: payload.Description}
			if payload.ScheduledTime != nil {
				parsed, err := time.Parse(time.RFC3339, *payload.ScheduledTime)
				if err != nil {
					writeJSON(w, http.StatusBadRequest, "Invalid scheduled_time format", nil)
					return
				}
				upd.ScheduledTime = &parsed
			}
			if payload.RecurrenceInterval != nil {
				interval := time.Duration(*payload.RecurrenceInterval) * time.Millisecond
				upd.RecurrenceInterval = &interval
			}
			if payload.RecurrenceEndTime != nil {
				parsed, err := time.Parse(time.RFC3339, *payload.RecurrenceEndTime)
				if err != nil {
					writeJSON(w, http.StatusBadRequest, "Invalid recurrence_end_time format", nil)
					return
				}
				upd.RecurrenceEndTime = &parsed
			}
			task, err := tasks.UpdateTaskSchedule(taskID, upd)
			if err != nil {
				writeError(w, "Failed to update task", err)
				return
			}
			writeJSON(w, http.StatusOK, "Task updated successfully", task)
		case http.MethodDelete:
			if err := tasks.DeleteTask(taskID); err != nil {
				writeError(w, "Failed to delete task", err)
				return
			}
			writeJSON(w, http.StatusOK, "Task deleted successfully", nil)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	}
}

// ChatHandler handles GET /chats/{threadId}.
func ChatHandler(tasks *service.TaskService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		threadID := strings.TrimPrefix(r.URL.Path, "/chats/")
		if threadID == "" || strings.Contains(threadID, "/") {
			writeJSON(w, http.StatusBadRequest, "Thread ID is required", nil)
			return
		}
		chat, err := tasks.GetChat(threadID)
		if err != nil {
			writeError(w, "Failed to retrieve chat", err)
			return
		}
		writeJSON(w, http.StatusOK, "Chat retrieved successfully", chat)
	}
}

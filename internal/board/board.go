// Package board mirrors worker progress onto an external kanban
// service over REST. The board is strictly observational: every call
// is fail-silent and a dead or misconfigured board never affects the
// run.
package board

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/imkarma/swarm/internal/config"
)

// Task statuses understood by the board.
const (
	StatusTodo       = "todo"
	StatusInProgress = "inprogress"
	StatusInReview   = "inreview"
	StatusDone       = "done"
	StatusCancelled  = "cancelled"
)

// Task is the board's representation of a story.
type Task struct {
	ID          string `json:"id"`
	ProjectID   string `json:"project_id,omitempty"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status"`
}

// Project is a board project; tasks are created inside one.
type Project struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Client talks to the board service. A nil Client is valid and means
// the board is disabled.
type Client struct {
	baseURL   string
	project   string // configured project name; empty = first project
	projectID string // resolved by Healthy
	http      *http.Client
}

// NewClient builds a board client, or nil when no URL is configured.
func NewClient(cfg config.Board) *Client {
	if cfg.URL == "" {
		return nil
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		project: cfg.Project,
		http:    &http.Client{Timeout: time.Duration(cfg.DefaultTimeout()) * time.Second},
	}
}

// Healthy reports whether the board answers, and resolves the project
// id tasks will be filed under. A board with no projects is still
// healthy; tasks are then created without a project.
func (c *Client) Healthy(ctx context.Context) bool {
	if c == nil {
		return false
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/projects", nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return false
	}

	var projects []Project
	if err := json.NewDecoder(resp.Body).Decode(&projects); err != nil || len(projects) == 0 {
		return true
	}
	c.projectID = projects[0].ID
	for _, p := range projects {
		if c.project != "" && p.Name == c.project {
			c.projectID = p.ID
			break
		}
	}
	return true
}

// CreateTask creates a task in the todo column and returns its id.
func (c *Client) CreateTask(ctx context.Context, title, description string) (string, error) {
	if c == nil {
		return "", fmt.Errorf("board disabled")
	}

	body, _ := json.Marshal(Task{ProjectID: c.projectID, Title: title, Description: description, Status: StatusTodo})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/tasks", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("create task: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("create task: status %d", resp.StatusCode)
	}

	var created Task
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return "", fmt.Errorf("decode task: %w", err)
	}
	if created.ID == "" {
		return "", fmt.Errorf("board returned task without id")
	}
	return created.ID, nil
}

// UpdateStatus moves a task to the given column.
func (c *Client) UpdateStatus(ctx context.Context, taskID, status string) error {
	if c == nil {
		return fmt.Errorf("board disabled")
	}

	body, _ := json.Marshal(map[string]string{"status": status})
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+"/tasks/"+taskID, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("update task %s: %w", taskID, err)
	}
	resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("update task %s: status %d", taskID, resp.StatusCode)
	}
	return nil
}

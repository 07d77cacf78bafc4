package web

import (
	"fmt"
	"net/http"
	"slices"
	"strings"

	"designer-dispatch/internal/events"
	"designer-dispatch/internal/notify"
)

var knownEventTypes = []string{
	notify.TypeOffered,
	notify.TypeConfirmed,
	notify.TypeRejected,
	notify.TypeExpired,
	notify.TypeStatusChanged,
}

type eventFilter struct {
	taskID       string
	designerID   string
	assignmentID string
	types        []string
}

func parseEventFilter(r *http.Request) (eventFilter, error) {
	query := r.URL.Query()
	filter := eventFilter{
		taskID:       strings.TrimSpace(query.Get("task_id")),
		designerID:   strings.TrimSpace(query.Get("designer_id")),
		assignmentID: strings.TrimSpace(query.Get("assignment_id")),
	}
	if raw := strings.TrimSpace(query.Get("type")); raw != "" {
		for _, t := range strings.Split(raw, ",") {
			t = strings.TrimSpace(t)
			if !slices.Contains(knownEventTypes, t) {
				return eventFilter{}, fmt.Errorf("invalid type %q", t)
			}
			filter.types = append(filter.types, t)
		}
	}
	return filter, nil
}

func (f eventFilter) Matches(event events.Event) bool {
	if f.taskID != "" && event.TaskID != f.taskID {
		return false
	}
	if f.designerID != "" && event.DesignerID != f.designerID {
		return false
	}
	if f.assignmentID != "" && event.AssignmentID != f.assignmentID {
		return false
	}
	if len(f.types) > 0 && !slices.Contains(f.types, event.Type) {
		return false
	}
	return true
}

// Package realtime carries change events from writers to live subscribers.
package realtime

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
)

type Kind string

const (
	KindAdded    Kind = "added"
	KindModified Kind = "modified"
	KindRemoved  Kind = "removed"
)

// Entities
const (
	EntityClass        = "class"
	EntityAnnouncement = "announcement"
	EntityAssignment   = "assignment"
	EntitySubmission   = "submission"
)

var ErrClosed = errors.New("broker closed")

// Event describes one committed change. Version is the entity's monotonic version after the change.
type Event struct {
	Topic   string          `json:"topic"`
	Kind    Kind            `json:"kind"`
	Entity  string          `json:"entity"`
	ID      string          `json:"id"`
	Version int64           `json:"version"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func NewEvent(topic string, kind Kind, entity, id string, version int64, data interface{}) (Event, error) {
	e := Event{Topic: topic, Kind: kind, Entity: entity, ID: id, Version: version}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return Event{}, errors.Wrap(err, "marshalling event data")
		}
		e.Data = raw
	}
	return e, nil
}

// Key identifies the entity an event is about.
func (e Event) Key() string { return e.Entity + ":" + e.ID }

type (
	Subscription interface {
		Events() <-chan Event
		Close() error
	}

	// Broker delivers published events to every open subscription of the event's topic, in publish order.
	Broker interface {
		Publish(ctx context.Context, events ...Event) error
		Subscribe(ctx context.Context, topics ...string) (Subscription, error)
		Close() error
	}
)

func ClassTopic(classID string) string         { return "class:" + classID }
func AnnouncementsTopic(classID string) string { return "class:" + classID + ":announcements" }
func AssignmentsTopic(classID string) string   { return "class:" + classID + ":assignments" }
func SubmissionsTopic(assignmentID string) string {
	return "assignment:" + assignmentID + ":submissions"
}

// Package habit defines the habit-tracking domain events and the read
// model projections built from them.
package habit

import (
	"encoding/json"

	"github.com/stillpoint/stillpoint/pkg/store"
)

// Event types appended to the log by the habit and journal features.
const (
	EventCreated        = "habit.Created"
	EventCheckedIn      = "habit.CheckedIn"
	EventArchived       = "habit.Archived"
	EventJournalWritten = "journal.Written"
)

// CreatedPayload is the body of a habit.Created event.
type CreatedPayload struct {
	HabitID string `json:"habit_id"`
	Name    string `json:"name"`
	Cadence string `json:"cadence"`
}

// CheckedInPayload is the body of a habit.CheckedIn event.
// Day is a calendar date in "2006-01-02" form, in the user's zone.
type CheckedInPayload struct {
	HabitID string `json:"habit_id"`
	Day     string `json:"day"`
}

// ArchivedPayload is the body of a habit.Archived event.
type ArchivedPayload struct {
	HabitID string `json:"habit_id"`
}

// JournalWrittenPayload is the body of a journal.Written event.
type JournalWrittenPayload struct {
	JournalID string `json:"journal_id"`
	Day       string `json:"day"`
	WordCount int    `json:"word_count"`
}

// Created builds a habit.Created event.
func Created(habitID, name, cadence string) store.NewEvent {
	return newEvent(EventCreated, CreatedPayload{
		HabitID: habitID,
		Name:    name,
		Cadence: cadence,
	})
}

// CheckedIn builds a habit.CheckedIn event.
func CheckedIn(habitID, day string) store.NewEvent {
	return newEvent(EventCheckedIn, CheckedInPayload{
		HabitID: habitID,
		Day:     day,
	})
}

// Archived builds a habit.Archived event.
func Archived(habitID string) store.NewEvent {
	return newEvent(EventArchived, ArchivedPayload{HabitID: habitID})
}

// JournalWritten builds a journal.Written event.
func JournalWritten(journalID, day string, wordCount int) store.NewEvent {
	return newEvent(EventJournalWritten, JournalWrittenPayload{
		JournalID: journalID,
		Day:       day,
		WordCount: wordCount,
	})
}

func newEvent(eventType string, payload any) store.NewEvent {
	data, _ := json.Marshal(payload)
	return store.NewEvent{EventType: eventType, Payload: data}
}
